package generic

import "errors"

// =============================================================================
// RESULT - The envelope every core operation returns
// =============================================================================

// Result is what the UI layer renders: success flag, message, optional data.
// Kind is set on failures so callers can branch without parsing Message.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Kind    Kind   `json:"kind,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func OK(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}

// Fail converts err into a failed Result. Store failures keep the
// underlying cause in the message for diagnostics.
func Fail(err error) Result {
	kind := KindOf(err)
	msg := err.Error()

	var tagged *Error
	if errors.As(err, &tagged) {
		msg = tagged.Message
		if tagged.Kind == KindStore && tagged.Err != nil {
			msg = tagged.Message + ": " + tagged.Err.Error()
		}
	}
	return Result{Success: false, Message: msg, Kind: kind}
}
