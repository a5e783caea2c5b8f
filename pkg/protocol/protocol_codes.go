package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Result codes carried in RPC_BACK payloads
const (
	CodeSuccess        = 200
	CodeSendFailed     = 200001
	CodeInvalidMessage = 200002
	CodeTimeout        = 200003
	CodeUnknownMethod  = 200004
)

// DescriptionSuccess is the description of the default success reply
const DescriptionSuccess = "Success."

// Error is a protocol-level failure: a result code and a human readable
// description. It is what validators return and what error replies carry.
type Error struct {
	RetCode     int    `json:"retCode"`
	Description string `json:"description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("retCode=%d: %s", e.RetCode, e.Description)
}

// Back converts the error into an RPC_BACK payload
func (e *Error) Back() BackPayload {
	return BackPayload{RetCode: e.RetCode, Description: e.Description, Data: emptyObject}
}

// Errorf creates a protocol error
func Errorf(code int, format string, args ...any) *Error {
	return &Error{RetCode: code, Description: fmt.Sprintf(format, args...)}
}

// UnknownMethod is the reply to an RPC_CALL naming no registered command
func UnknownMethod(cmdName string) *Error {
	return &Error{RetCode: CodeUnknownMethod, Description: "method name=" + cmdName}
}

// Timeout is the settlement of a call that received no reply in time
func Timeout(device string) *Error {
	return Errorf(CodeTimeout, "no reply from %s", device)
}

// IsTimeout reports whether err is a protocol timeout
func IsTimeout(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.RetCode == CodeTimeout
}

// AsError turns a non-success RPC_BACK payload into an Error
func (b BackPayload) AsError() *Error {
	if b.RetCode == CodeSuccess {
		return nil
	}
	return &Error{RetCode: b.RetCode, Description: b.Description}
}

// Result is what a local command handler produces. Description and Data are
// arbitrary JSON-encodable values.
type Result struct {
	RetCode     int
	Description any
	Data        any
}

// OK returns a success result carrying data
func OK(data any) Result {
	return Result{RetCode: CodeSuccess, Description: DescriptionSuccess, Data: data}
}

// Fail returns a result carrying err's code and description
func Fail(err *Error) Result {
	return Result{RetCode: err.RetCode, Description: err.Description, Data: map[string]any{}}
}

// Back renders the result as an RPC_BACK payload. The description is
// JSON-encoded into the string field, so a plain string description arrives
// quoted.
func (r Result) Back() (BackPayload, error) {
	desc, err := json.Marshal(r.Description)
	if err != nil {
		return BackPayload{}, fmt.Errorf("encode description: %w", err)
	}
	data := r.Data
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return BackPayload{}, fmt.Errorf("encode data: %w", err)
	}
	return BackPayload{RetCode: r.RetCode, Description: string(desc), Data: raw}, nil
}
