package session

import (
	"encoding/json"
	"time"
)

// State is the lifecycle position of one relay session.
type State int

const (
	Connecting State = iota
	Buffering
	Active
	Closing
	Closed
)

var stateNames = map[State]string{
	Connecting: "connecting",
	Buffering:  "buffering",
	Active:     "active",
	Closing:    "closing",
	Closed:     "closed",
}

var stateFromName = map[string]State{
	"connecting": Connecting,
	"buffering":  Buffering,
	"active":     Active,
	"closing":    Closing,
	"closed":     Closed,
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := stateFromName[name]; ok {
		*s = v
	}
	return nil
}

// Queueing reports whether browser frames are held back in this state.
func (s State) Queueing() bool {
	return s == Connecting || s == Buffering
}

func (s State) IsTerminal() bool {
	return s == Closing || s == Closed
}

// Info is a diagnostic snapshot of one registry entry.
type Info struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remoteAddr"`
	State       State     `json:"state"`
	ConnectedAt time.Time `json:"connectedAt"`
	ActiveAt    time.Time `json:"activeAt,omitzero"`
	Pending     int       `json:"pending"`
	Upstream    bool      `json:"upstream"`
}
