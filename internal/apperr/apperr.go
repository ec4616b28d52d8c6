// Package apperr defines the small sum of error kinds that cross every
// component boundary in the runtime. Errors are classified by wrapping one
// of the sentinels below with fmt.Errorf("...: %w", Sentinel); callers use
// errors.Is to recover the kind without depending on message text.
package apperr

import "errors"

var (
	// NotFound is returned when no such conversation, worker, or message exists.
	NotFound = errors.New("not found")
	// Busy is returned when a turn is already in flight for a worker.
	Busy = errors.New("busy")
	// Unsupported is returned when an operation is not valid for a worker variant.
	Unsupported = errors.New("unsupported")
	// Transport is returned on subprocess or network failure.
	Transport = errors.New("transport error")
	// Protocol is returned on malformed JSON-RPC / framing errors.
	Protocol = errors.New("protocol error")
	// Auth is returned when an external service reports 401/403.
	Auth = errors.New("auth error")
	// Storage is returned on SQL errors or database corruption.
	Storage = errors.New("storage error")
	// Timeout is returned when an operation is cancelled by deadline.
	Timeout = errors.New("timeout")
	// Canceled is returned when an operation is cancelled by user or system.
	Canceled = errors.New("canceled")
)

// Reply is the envelope every error crossing the UI boundary is adapted
// into: {success: false, msg}. Kept private-ish but exported because both
// the bridge and its adapters need the exact field names.
type Reply struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Msg     string `json:"msg,omitempty"`
}

// ToReply adapts a typed error into the bridge's reply envelope. A nil err
// produces a successful reply carrying data.
func ToReply(data any, err error) Reply {
	if err == nil {
		return Reply{Success: true, Data: data}
	}
	return Reply{Success: false, Msg: err.Error()}
}

// Is reports whether err wraps the given sentinel; a thin alias so callers
// don't need a separate "errors" import just for this one check.
func Is(err, sentinel error) bool { return errors.Is(err, sentinel) }
