package telemetry

import (
	"time"
)

// Action is the kind of endpoint activity an event describes. Values match
// the sandbox agent's ETW payload names and are stored verbatim.
type Action string

const (
	ActionFileCreate       Action = "FileCreate"
	ActionFileWrite        Action = "FileWrite"
	ActionFileDelete       Action = "FileDelete"
	ActionProcessCreate    Action = "ProcessCreate"
	ActionProcessTerminate Action = "ProcessTerminate"
	ActionNetworkConnect   Action = "NetworkConnect"
	ActionDNSQuery         Action = "DNSQuery"
	ActionRegistrySet      Action = "RegistrySet"
)

// Valid reports whether a is a known action kind.
func (a Action) Valid() bool {
	switch a {
	case ActionFileCreate, ActionFileWrite, ActionFileDelete,
		ActionProcessCreate, ActionProcessTerminate,
		ActionNetworkConnect, ActionDNSQuery, ActionRegistrySet:
		return true
	}
	return false
}

// MaxSeverity is the upper bound of the event severity scale.
const MaxSeverity = 100

// Event is one observed endpoint action inside a detonation session.
// Events are immutable once stored; EventID is globally unique.
type Event struct {
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id"`
	ProcessName string    `json:"process_name"`
	PID         uint32    `json:"pid"`
	PPID        uint32    `json:"ppid"`
	Action      Action    `json:"action"`
	TargetPath  string    `json:"target_path,omitempty"`
	CommandLine string    `json:"command_line,omitempty"`
	Hashes      []string  `json:"hashes,omitempty"`
	UserSID     string    `json:"user_sid,omitempty"`
	Severity    int       `json:"severity"`
}

// ClampSeverity bounds a raw severity score to [0, MaxSeverity].
func ClampSeverity(s int) int {
	if s < 0 {
		return 0
	}
	if s > MaxSeverity {
		return MaxSeverity
	}
	return s
}

// Equal reports whether two events carry an identical payload. Used to
// distinguish a benign re-delivery from a conflicting one under the same
// event identifier.
func (e *Event) Equal(other *Event) bool {
	if e.EventID != other.EventID ||
		!e.Timestamp.Equal(other.Timestamp) ||
		e.SessionID != other.SessionID ||
		e.ProcessName != other.ProcessName ||
		e.PID != other.PID ||
		e.PPID != other.PPID ||
		e.Action != other.Action ||
		e.TargetPath != other.TargetPath ||
		e.CommandLine != other.CommandLine ||
		e.UserSID != other.UserSID ||
		e.Severity != other.Severity {
		return false
	}
	if len(e.Hashes) != len(other.Hashes) {
		return false
	}
	for i := range e.Hashes {
		if e.Hashes[i] != other.Hashes[i] {
			return false
		}
	}
	return true
}
