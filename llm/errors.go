package llm

import (
	"errors"
	"fmt"
)

// Error codes surfaced by the resolver and the invocation backends.
const (
	CodeCredentialsNotFound       = "credentials_not_found"
	CodeInvalidCredentialFormat   = "invalid_credential_format"
	CodeIncompleteCredentials     = "incomplete_credentials"
	CodeUnknownModel              = "unknown_model"
	CodeUnsupportedInvocationMode = "unsupported_invocation_mode"
	CodeInvalidRequestConfig      = "invalid_request_config"
	CodeThrottled                 = "bedrock_throttled"
	CodeAccessDenied              = "access_denied"
)

// Sentinel errors for use with errors.Is. Matching is by Code only.
var (
	ErrCredentialsNotFound       = &Error{Code: CodeCredentialsNotFound}
	ErrInvalidCredentialFormat   = &Error{Code: CodeInvalidCredentialFormat}
	ErrIncompleteCredentials     = &Error{Code: CodeIncompleteCredentials}
	ErrUnknownModel              = &Error{Code: CodeUnknownModel}
	ErrUnsupportedInvocationMode = &Error{Code: CodeUnsupportedInvocationMode}
	ErrInvalidRequestConfig      = &Error{Code: CodeInvalidRequestConfig}
	ErrThrottled                 = &Error{Code: CodeThrottled}
	ErrAccessDenied              = &Error{Code: CodeAccessDenied}
)

// Error represents a credential, model or invocation failure.
type Error struct {
	Code string
	Msg  string

	// Missing lists the canonical credential fields absent after
	// normalization (incomplete_credentials only).
	Missing []string

	// Model is the name or ID that failed to resolve, when relevant.
	Model string

	Err error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("bedrock error [%s]", e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("bedrock error [%s]: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("bedrock error [%s]: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// IsCredentialsNotFound returns true if the credential file was absent.
func (e *Error) IsCredentialsNotFound() bool {
	return e.Code == CodeCredentialsNotFound
}

// IsInvalidCredentialFormat returns true if the credential content was neither
// JSON nor base64-encoded JSON.
func (e *Error) IsInvalidCredentialFormat() bool {
	return e.Code == CodeInvalidCredentialFormat
}

// IsIncompleteCredentials returns true if required credential fields were missing.
func (e *Error) IsIncompleteCredentials() bool {
	return e.Code == CodeIncompleteCredentials
}

// IsUnknownModel returns true if the model name is not in the catalog.
func (e *Error) IsUnknownModel() bool {
	return e.Code == CodeUnknownModel
}

// IsUnsupportedInvocationMode returns true if a bare model ID was used where
// an inference profile is required.
func (e *Error) IsUnsupportedInvocationMode() bool {
	return e.Code == CodeUnsupportedInvocationMode
}

// IsThrottled returns true if the request was rate-limited.
func (e *Error) IsThrottled() bool {
	return e.Code == CodeThrottled
}

// AsError checks whether an error chain contains an *Error and returns it.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func newError(code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}
