package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is a named application occurrence that may cause a paywall
// decision. Events are immutable once created: the tracking entry point
// creates them and the presentation pipeline only reads them.
type Event struct {
	ID         string           `json:"event_id"`
	Name       string           `json:"event_name"`
	Parameters map[string]Value `json:"parameters"`
	CreatedAt  time.Time        `json:"created_at"`
}

// NewEvent creates an event with a fresh id and the current timestamp.
func NewEvent(name string, params map[string]Value) Event {
	if params == nil {
		params = map[string]Value{}
	}
	return Event{
		ID:         uuid.NewString(),
		Name:       name,
		Parameters: params,
		CreatedAt:  time.Now().UTC(),
	}
}

// Parameter returns the named parameter, or Null if absent.
func (e Event) Parameter(name string) Value {
	if v, ok := e.Parameters[name]; ok {
		return v
	}
	return Null
}
