// Package apierrors defines the ecto_code error taxonomy shared by the HTTP and gateway layers. Codes are grouped by
// the HTTP status family they are normally paired with, matching the numbering in the error response envelope.
package apierrors

// Code is a stable, machine-readable error identifier returned alongside an HTTP status and a human message.
type Code int

// 1xxx: request shape / validation.
const (
	InvalidBody Code = 1000 + iota
	ValidationError
	InvalidUsername
	InvalidEmail
	InvalidPassword
	InvalidChannelID
	UnsupportedContentType
	PayloadTooLarge
	MissingField
)

// 2xxx: auth / identity.
const (
	Unauthorized Code = 2000 + iota
	InvalidCredentials
	InvalidToken
	TokenExpired
	MFANotEnabled
	EmailNotVerified
	MembershipRequired
	Banned
	MFARequired
	TokenReused
	MFALocked
	VerificationCooldown
)

// 3xxx: state conflicts.
const (
	AlreadyExists Code = 3000 + iota
	AlreadyMember
	RoleHierarchy
	MaxRolesReached
	MaxChannelsReached
	MaxCategoriesReached
	OpenJoinDisabled
	ConflictGeneric
	PageVersionConflict
	WrongChannelType
)

// 4xxx: not-found family, one code per resource kind.
const (
	NotFound Code = 4000 + iota
	UnknownUser
	UnknownChannel
	UnknownCategory
	UnknownRole
	UnknownMember
	UnknownMessage
	UnknownInvite
	UnknownBan
	UnknownOverride
	UnknownAttachment
	UnknownWebhook
	UnknownDMConversation
	UnknownFolder
	UnknownSharedFile
	UnknownPage
)

// 5xxx: authorization / ownership.
const (
	MissingPermissions Code = 5000 + iota
	OwnerOnly
	ServerOwner
)

// 6xxx: rate limiting and availability.
const (
	RateLimited Code = 6000 + iota
	ServiceUnavailable
	SearchUnavailable
	SlowmodeActive
)

// 8xxx: voice/SFU coordination errors.
const (
	VoiceNotConnected Code = 8000 + iota
	VoiceAlreadyConnected
	VoiceRouterUnavailable
	VoiceTransportFailed
)

// 9xxx: unexpected.
const InternalError Code = 9000

// Unauthorised is a British-spelling alias retained for call sites ported from the teacher's handlers.
const Unauthorised = Unauthorized
