package supervisor

import "github.com/cubic-control/cubicd/internal/status"

// Legacy status codes kept stable for existing dashboards and launchers.
const (
	CodeRunning    = 200
	CodeStarting   = 205
	CodeOff        = 206
	CodeRestarting = 207
	CodeStopping   = 208
	CodeBusy       = 305 // operation refused while a restart is in flight
	CodeRefused    = 400
	CodeError      = 500
)

// Outcome is the structured result of a lifecycle operation. Operations
// report outcomes instead of raising so the HTTP layer renders them as-is.
type Outcome struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// StateOutcome maps a lifecycle state to its public message and code.
func StateOutcome(s status.State) Outcome {
	switch s {
	case status.Running:
		return Outcome{Message: "Server fully loaded!", Code: CodeRunning}
	case status.Starting:
		return Outcome{Message: "Server is starting...", Code: CodeStarting}
	case status.Stopping:
		return Outcome{Message: "Server is stopping...", Code: CodeStopping}
	case status.Restarting:
		return Outcome{Message: "Server is restarting...", Code: CodeRestarting}
	case status.Error:
		return Outcome{Message: "Status check failed", Code: CodeError}
	default:
		return Outcome{Message: "Server is off", Code: CodeOff}
	}
}
