// Package ipc carries control commands to the process that owns the capture session.
package ipc

// Commands understood by the session owner.
const (
	CommandStatus = "status"
	CommandToggle = "toggle"
	CommandStop   = "stop"
	CommandCancel = "cancel"
)

// Request is one control command. Session, when set, names the cookie the
// command is meant for; the owner refuses it if another session is active.
type Request struct {
	Command string `json:"command"`
	Session string `json:"session,omitempty"`
}

// Response reports command outcome plus the owner's state machines.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Session string `json:"session,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
