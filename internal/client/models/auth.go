package models

// Credentials is the register request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is sent as one atomic request: credentials, the fresh device
// fingerprint and, when present, the stored device binding.
type LoginRequest struct {
	Email         string            `json:"email"`
	Password      string            `json:"password"`
	Device        DeviceFingerprint `json:"device"`
	DeviceBinding string            `json:"device_binding,omitempty"`
}

// LoginResponse mirrors the backend token payload. Older builds send the
// bearer as "token" instead of "access_token".
type LoginResponse struct {
	AccessToken      string `json:"access_token"`
	Token            string `json:"token"`
	TokenType        string `json:"token_type"`
	RiskScore        int    `json:"risk_score"`
	StepUpRequired   bool   `json:"step_up_required"`
	Message          string `json:"message"`
	RefreshToken     string `json:"refresh_token"`
	PendingChallenge string `json:"pending_challenge"`
}

// BearerToken returns access_token, falling back to token.
func (r LoginResponse) BearerToken() string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.Token
}

// LoginResult is the outcome of a successful login call. When StepUpRequired
// is set, Token is provisional and must not be used as a session.
type LoginResult struct {
	Identity         string
	Token            string
	RiskScore        int
	StepUpRequired   bool
	Message          string
	PendingChallenge string
}

// Provisional reports whether the result still needs step-up verification.
func (r *LoginResult) Provisional() bool {
	return r != nil && r.StepUpRequired
}

// Account is the minimal user record returned by /me and avatar uploads.
type Account struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// Profile is the editable personal profile.
type Profile struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DOB         string `json:"dob"`
	Nationality string `json:"nationality"`
	AvatarURL   string `json:"avatar_url"`
}

// ProfileUpdate carries only the fields to change; nil fields are omitted.
type ProfileUpdate struct {
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	DOB         *string `json:"dob,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Nationality *string `json:"nationality,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty" validate:"omitempty,url"`
}

// Empty reports whether no field is set.
func (u ProfileUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.DOB == nil && u.Nationality == nil && u.AvatarURL == nil
}
