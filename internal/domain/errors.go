package domain

import (
	"errors"
	"fmt"
)

// Kind groups error codes into the families clients can react to.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindGameRule   Kind = "game_rule"
	KindProtocol   Kind = "protocol"
	KindInternal   Kind = "internal"
)

// Code is a stable machine-readable error code.
type Code string

const (
	// Protocol
	CodeEmptyPayload           Code = "empty_payload"
	CodeInvalidJSON            Code = "invalid_json"
	CodeInvalidMessage         Code = "invalid_message"
	CodeMissingType            Code = "missing_type"
	CodeInvalidRequestID       Code = "invalid_request_id"
	CodeInvalidProtocolVersion Code = "invalid_protocol_version"
	CodeVersionMismatch        Code = "version_mismatch"
	CodeUnknownType            Code = "unknown_type"
	CodeRateLimited            Code = "rate_limited"

	// Validation
	CodeInvalidPayload Code = "invalid_payload"

	// Auth
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeUsernameTaken      Code = "username_taken"
	CodeInvalidToken       Code = "invalid_token"
	CodeSessionExpired     Code = "session_expired"
	CodeAuthRequired       Code = "auth_required"
	CodeSSODisabled        Code = "sso_disabled"
	CodeSSOFailed          Code = "sso_failed"

	// Game rules
	CodeTileOutOfBounds   Code = "tile_oob"
	CodeInvalidTile       Code = "invalid_tile"
	CodeAlreadyOwned      Code = "already_owned"
	CodeOccupied          Code = "occupied"
	CodeNotAdjacent       Code = "not_adjacent"
	CodeNeutralTile       Code = "neutral_tile"
	CodeInsufficientPower Code = "insufficient_power"
	CodeInvalidCost       Code = "invalid_cost"
	CodeBuildingExists    Code = "building_exists"
	CodeNotOwner          Code = "not_owner"
	CodeSpawnFailed       Code = "spawn_failed"

	// Internal
	CodeInternal Code = "internal_error"
)

// Error is the in-band error surfaced to clients as an error envelope.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is matches errors by code so sentinels compare equal to decorated copies.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// NewError creates a domain error.
func NewError(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validationf creates a validation error for a payload field.
func Validationf(field, format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeInvalidPayload,
		Message: fmt.Sprintf(format, args...),
		Details: map[string]any{"field": field},
	}
}

// AsError extracts a domain error from err. Anything else is reported as an
// internal error with a generic message.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return NewError(KindInternal, CodeInternal, "internal server error")
}
