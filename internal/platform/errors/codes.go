package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Passcode errors
	CodePasscodeInvalidDeviceID Code = "PASSCODE_INVALID_DEVICE_ID"
	CodePasscodeEmptyIdentity   Code = "PASSCODE_EMPTY_IDENTITY"

	// Admin session errors
	CodeAdminSessionEmptyID    Code = "ADMIN_SESSION_EMPTY_ID"
	CodeAdminSessionEmptyEmail Code = "ADMIN_SESSION_EMPTY_EMAIL"
	CodeAdminSessionBadRole    Code = "ADMIN_SESSION_BAD_ROLE"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
)
