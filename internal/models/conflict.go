package models

type Resolution string

const (
	ResolutionTakeLocal  Resolution = "take-local"
	ResolutionTakeServer Resolution = "take-server"
	ResolutionMerge      Resolution = "field-level-merge"
)

func (r Resolution) Valid() bool {
	switch r {
	case ResolutionTakeLocal, ResolutionTakeServer, ResolutionMerge:
		return true
	}
	return false
}

// Conflict pairs a client's stale local copy of an event with the copy it
// last saw from the server. It only lives for one resolution request.
type Conflict struct {
	EventID       string     `json:"eventId" validate:"required"`
	LocalVersion  *Event     `json:"localVersion" validate:"-"`
	ServerVersion *Event     `json:"serverVersion,omitempty" validate:"-"`
	Resolution    Resolution `json:"resolution" validate:"required,oneof=take-local take-server field-level-merge"`
}

type ConflictResult struct {
	EventID    string     `json:"eventId"`
	Resolution Resolution `json:"resolution"`
	Success    bool       `json:"success"`
	Event      *Event     `json:"event,omitempty"`
	Error      string     `json:"error,omitempty"`
}
