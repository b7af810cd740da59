package models

import "time"

// LoginEvent is one entry of the account login history.
type LoginEvent struct {
	Timestamp  Timestamp `json:"ts"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	DeviceHash string    `json:"device_hash"`
	Success    bool      `json:"success"`
	RiskScore  int       `json:"risk_score"`
	RiskReason string    `json:"risk_reason"`
}

type SessionInfo struct {
	SessionID  string    `json:"session_id"`
	CreatedAt  Timestamp `json:"created_at"`
	LastSeen   Timestamp `json:"last_seen"`
	DeviceHash string    `json:"device_hash"`
	IP         string    `json:"ip"`
	Revoked    bool      `json:"revoked"`
}

type TravelPoint struct {
	IP   string `json:"ip"`
	City string `json:"city"`
}

// ImpossibleTravel compares the two most recent successful logins.
type ImpossibleTravel struct {
	EnoughData   bool         `json:"enough_data"`
	From         *TravelPoint `json:"from,omitempty"`
	To           *TravelPoint `json:"to,omitempty"`
	DistanceKm   float64      `json:"distance_km"`
	HoursBetween float64      `json:"hours_between"`
	SpeedKmh     float64      `json:"speed_kmh"`
	Flagged      bool         `json:"flagged"`
}

// Anomaly methods accepted by the backend.
const (
	AnomalyAuto    = "auto"
	AnomalyIForest = "iforest"
	AnomalyAutoenc = "autoenc"
)

type AnomalyScore struct {
	EnoughData bool           `json:"enough_data"`
	Score      int            `json:"score"`
	Method     string         `json:"method"`
	Reason     string         `json:"reason"`
	NTrain     int            `json:"n_train"`
	Details    map[string]any `json:"details"`
}

type DailyLoginStats struct {
	Date    string `json:"date"`
	Success int    `json:"success"`
	Fail    int    `json:"fail"`
	Risky   int    `json:"risky"`
}

type LoginTotals struct {
	Success int `json:"success"`
	Fail    int `json:"fail"`
	Risky   int `json:"risky"`
}

type DeviceCounts struct {
	Trusted int `json:"trusted"`
	Total   int `json:"total"`
}

type SecurityMetrics struct {
	Series  []DailyLoginStats `json:"series"`
	Totals  LoginTotals       `json:"totals"`
	Devices DeviceCounts      `json:"devices"`
}

type GeoLogin struct {
	Timestamp Timestamp `json:"ts"`
	IP        string    `json:"ip"`
	City      string    `json:"city"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Risk      int       `json:"risk"`
	Device    string    `json:"device"`
}

type GeoLogins struct {
	Logins []GeoLogin `json:"logins"`
}

type CategoryStats struct {
	N      int     `json:"n"`
	Median float64 `json:"median"`
	MAD    float64 `json:"mad"`
}

// IntelProfile is the behavioral baseline the backend scores against.
type IntelProfile struct {
	LoginHoursHist   map[string]int           `json:"login_hours_hist"`
	LoginCities      map[string]int           `json:"login_cities"`
	DeviceTrust      map[string]bool          `json:"device_trust"`
	TxCategoryStats  map[string]CategoryStats `json:"tx_category_stats"`
	TxMerchantCounts map[string]int           `json:"tx_merchant_counts"`
}

// TransactionScoreRequest asks the backend to score a prospective transaction.
type TransactionScoreRequest struct {
	Amount   float64 `json:"amount" validate:"gt=0"`
	Currency string  `json:"currency" validate:"required,len=3"`
	Category string  `json:"category" validate:"required"`
	Merchant string  `json:"merchant,omitempty"`
}

// LoginScoreRequest asks the backend to score a hypothetical login.
type LoginScoreRequest struct {
	IP         string `json:"ip,omitempty" validate:"omitempty,ip"`
	DeviceHash string `json:"device_hash,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

type ScoreBreakdown struct {
	Total   int            `json:"total"`
	Parts   []string       `json:"parts"`
	Details map[string]any `json:"details"`
}

// Audit record types in the NDJSON export.
const (
	AuditLogin       = "login"
	AuditTransaction = "transaction"
)

// AuditRecord is one line of the audit export. Login and transaction records
// share the struct; fields not relevant to Type stay zero.
type AuditRecord struct {
	Type      string    `json:"type"`
	Timestamp Timestamp `json:"ts"`

	IP      string `json:"ip,omitempty"`
	UA      string `json:"ua,omitempty"`
	Device  string `json:"device,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Risk    *int   `json:"risk,omitempty"`
	Reason  string `json:"reason,omitempty"`

	Amount   *float64 `json:"amount,omitempty"`
	Currency string   `json:"currency,omitempty"`
	Category string   `json:"category,omitempty"`
	Merchant string   `json:"merchant,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// AuditExport is the parsed export plus the count of lines that failed to
// decode.
type AuditExport struct {
	Records []AuditRecord
	Skipped int
}

// SecuritySnapshot is the reconciled, client-side view of the account's
// security posture. It is replaced wholesale on refresh and never mutated in
// place.
type SecuritySnapshot struct {
	Identity         string
	FetchedAt        time.Time
	Devices          []TrustedDevice
	Logins           []LoginEvent
	Sessions         []SessionInfo
	ImpossibleTravel ImpossibleTravel
	Anomaly          AnomalyScore
	Metrics          SecurityMetrics
	GeoLogins        []GeoLogin
	Intel            IntelProfile
	// Inconsistencies lists mismatches found while reconciling, e.g. a trusted
	// device count that disagrees with the device list.
	Inconsistencies []string
}

// TrustedDeviceCount counts devices marked trusted.
func (s *SecuritySnapshot) TrustedDeviceCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, d := range s.Devices {
		if d.Trusted {
			n++
		}
	}
	return n
}
