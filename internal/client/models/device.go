package models

// DeviceFingerprint describes the current installation. It is computed on
// every login attempt and never persisted.
type DeviceFingerprint struct {
	Model      string `json:"model"`
	OS         string `json:"os"`
	AppVersion string `json:"app_version"`
	Timezone   string `json:"timezone"`
	Locale     string `json:"locale"`
	DeviceID   string `json:"device_id"`
}

// TrustedDevice is a read-only copy of a backend device record. It is never
// authoritative; re-fetch after any trust/bind/unbind.
type TrustedDevice struct {
	DeviceHash string    `json:"device_hash"`
	Label      string    `json:"label"`
	Trusted    bool      `json:"trusted"`
	FirstSeen  Timestamp `json:"first_seen"`
	LastSeen   Timestamp `json:"last_seen"`
	LastIP     string    `json:"last_ip"`
	UserAgent  string    `json:"user_agent"`
}

// BindResponse carries the freshly issued binding token, if any.
type BindResponse struct {
	DeviceHash    string `json:"device_hash"`
	DeviceBinding string `json:"device_binding"`
}
