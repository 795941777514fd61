package browser

import (
	"errors"
	"fmt"

	"shop_automation/domain/entities"
)

var (
	// ErrLaunchFailed is fatal: the browser process could not be started
	ErrLaunchFailed = errors.New("browser launch failed")

	// ErrTargetNotFound means no debuggable page was discovered or connected
	ErrTargetNotFound = errors.New("debugging target not found")

	// ErrSessionClosed is returned by operations on a closed session
	ErrSessionClosed = errors.New("session closed")
)

// ScriptError is an exception raised by the page while running a script
type ScriptError struct {
	Backend entities.BackendKind
	Message string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s script error: %s", e.Backend, e.Message)
}

// ProtocolError is the error object of a remote-protocol response
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("protocol error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}
