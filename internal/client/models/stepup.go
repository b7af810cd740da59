package models

// StepUpStartRequest selects the challenge method.
type StepUpStartRequest struct {
	Method string `json:"method"`
}

// StepUpStartResponse is the backend reply to a start call. The dev-mode
// code arrives as "code" or "test_code"; production omits both.
type StepUpStartResponse struct {
	Token       string `json:"token"`
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
	TestCode    string `json:"test_code"`
}

// StepUpChallenge is the single challenge the controller tracks.
type StepUpChallenge struct {
	// ChallengeID is the nonce to echo on verify; empty when the backend
	// keys the challenge by bearer token only.
	ChallengeID string
	// Hint is a development-mode code. Never present in production.
	Hint string
}

// StepUpVerifyRequest is the verify body.
type StepUpVerifyRequest struct {
	Token string `json:"token,omitempty"`
	Code  string `json:"code"`
}

// StepUpVerifyResponse accepts both reply shapes: a fresh access token, or
// an ok/verified flag. Pointers distinguish an explicit false from absence.
type StepUpVerifyResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	OK          *bool  `json:"ok"`
	Verified    *bool  `json:"verified"`
}

// BearerToken returns access_token, falling back to token.
func (r StepUpVerifyResponse) BearerToken() string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.Token
}

// Rejected reports an explicit ok=false or verified=false.
func (r StepUpVerifyResponse) Rejected() bool {
	return (r.OK != nil && !*r.OK) || (r.Verified != nil && !*r.Verified)
}

// Accepted reports a new token or an explicit ok/verified=true.
func (r StepUpVerifyResponse) Accepted() bool {
	if r.Rejected() {
		return false
	}
	return r.BearerToken() != "" || (r.OK != nil && *r.OK) || (r.Verified != nil && *r.Verified)
}
