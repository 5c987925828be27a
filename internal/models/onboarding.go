package models

// Onboarding step identifiers, returned by GET /api/v1/onboarding/status to tell the client what to do next.
const (
	OnboardingStepJoinServer      = "join_server"
	OnboardingStepVerifyEmail     = "verify_email"
	OnboardingStepAcceptDocuments = "accept_documents"
	OnboardingStepComplete        = "complete"
)

// OnboardingDocument is the protocol representation of a single onboarding document.
type OnboardingDocument struct {
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Position int    `json:"position"`
	Required bool   `json:"required"`
}

// OnboardingConfig is the protocol representation of the server's onboarding configuration.
type OnboardingConfig struct {
	WelcomeChannelID         *string              `json:"welcome_channel_id"`
	RequireEmailVerification bool                 `json:"require_email_verification"`
	OpenJoin                 bool                 `json:"open_join"`
	MinAccountAgeSeconds     int                  `json:"min_account_age_seconds"`
	AutoRoles                []string             `json:"auto_roles"`
	Documents                []OnboardingDocument `json:"documents"`
}

// UpdateOnboardingConfigRequest is the request body for PATCH /api/v1/onboarding.
type UpdateOnboardingConfigRequest struct {
	WelcomeChannelID         *string  `json:"welcome_channel_id"`
	RequireEmailVerification *bool    `json:"require_email_verification"`
	OpenJoin                 *bool    `json:"open_join"`
	MinAccountAgeSeconds     *int     `json:"min_account_age_seconds"`
	AutoRoles                []string `json:"auto_roles"`
}

// AcceptOnboardingRequest is the request body for POST /api/v1/onboarding/accept.
type AcceptOnboardingRequest struct {
	AcceptedDocumentSlugs []string `json:"accepted_document_slugs"`
}

// OnboardingStatusResponse is the response body for GET /api/v1/onboarding/status.
type OnboardingStatusResponse struct {
	Step string `json:"step"`
}
