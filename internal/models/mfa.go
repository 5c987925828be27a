package models

// MFAEnableRequest is the request body for POST /api/v1/users/@me/mfa/enable.
type MFAEnableRequest struct {
	Password string `json:"password"`
}

// MFASetupResponse carries the TOTP secret and provisioning URI for a pending MFA setup.
type MFASetupResponse struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// MFAConfirmRequest is the request body for POST /api/v1/users/@me/mfa/confirm.
type MFAConfirmRequest struct {
	Code string `json:"code"`
}

// MFAConfirmResponse carries the one-time recovery codes generated when MFA setup is confirmed.
type MFAConfirmResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// MFADisableRequest is the request body for POST /api/v1/users/@me/mfa/disable.
type MFADisableRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

// MFARegenerateCodesRequest is the request body for POST /api/v1/users/@me/mfa/recovery-codes.
type MFARegenerateCodesRequest struct {
	Password string `json:"password"`
}

// MFARegenerateCodesResponse carries a freshly generated set of recovery codes.
type MFARegenerateCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}
