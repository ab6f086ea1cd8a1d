package services

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prudhvinik1/eventsync/internal/models"
)

var ErrInvalidResolution = errors.New("invalid conflict resolution")

// MergePreference picks which side wins a field-level merge when both sides
// have a non-empty value.
type MergePreference string

const (
	PreferLocal  MergePreference = "local"
	PreferServer MergePreference = "server"
)

func ParseMergePreference(s string) (MergePreference, error) {
	switch p := MergePreference(s); p {
	case PreferLocal, PreferServer:
		return p, nil
	}
	return "", fmt.Errorf("unknown merge preference %q", s)
}

// ConflictResolver decides the canonical state of one diverged event. It
// holds no state between calls.
type ConflictResolver struct {
	preference MergePreference
	logger     *slog.Logger
}

func NewConflictResolver(preference MergePreference, logger *slog.Logger) *ConflictResolver {
	if preference == "" {
		preference = PreferLocal
	}
	return &ConflictResolver{preference: preference, logger: logger}
}

func (r *ConflictResolver) Preference() MergePreference {
	return r.preference
}

// Resolve returns the event state that should become canonical and whether
// it must be written back. The server copy is never modified in place.
// override replaces the configured merge preference when non-empty.
func (r *ConflictResolver) Resolve(local, server *models.Event, resolution models.Resolution, override MergePreference) (*models.Event, bool, error) {
	if server == nil {
		return nil, false, fmt.Errorf("%w: missing server version", ErrInvalidResolution)
	}
	if resolution != models.ResolutionTakeServer && local == nil {
		return nil, false, fmt.Errorf("%w: %s requires a local version", ErrInvalidResolution, resolution)
	}

	result := *server

	switch resolution {
	case models.ResolutionTakeLocal:
		result.CopyMutable(local)
		r.logger.Debug("conflict resolved with local version", "event_id", server.ID)
		return &result, true, nil

	case models.ResolutionTakeServer:
		r.logger.Debug("conflict resolved with server version", "event_id", server.ID, "version", server.Version)
		return &result, false, nil

	case models.ResolutionMerge:
		pref := r.preference
		if override != "" {
			pref = override
		}
		primary, fallback := local, server
		if pref == PreferServer {
			primary, fallback = server, local
		}
		mergeFields(&result, primary, fallback)
		changed := !sameMutable(&result, server)
		r.logger.Debug("conflict resolved by field merge", "event_id", server.ID, "preference", pref, "changed", changed)
		return &result, changed, nil
	}

	return nil, false, fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
}

// mergeFields takes each mutable field from primary unless it is the zero
// value, in which case fallback's value is used. A zero latitude or
// longitude therefore counts as empty.
func mergeFields(dst, primary, fallback *models.Event) {
	dst.Name = pickString(primary.Name, fallback.Name)
	dst.Description = pickString(primary.Description, fallback.Description)
	dst.Category = models.Category(pickString(string(primary.Category), string(fallback.Category)))
	dst.Venue = pickString(primary.Venue, fallback.Venue)
	dst.Address = pickString(primary.Address, fallback.Address)
	dst.Latitude = pickFloat(primary.Latitude, fallback.Latitude)
	dst.Longitude = pickFloat(primary.Longitude, fallback.Longitude)
	dst.StartTime = primary.StartTime
	if dst.StartTime.IsZero() {
		dst.StartTime = fallback.StartTime
	}
}

func pickString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func pickFloat(a, b float64) float64 {
	if a != 0 {
		return a
	}
	return b
}

func sameMutable(a, b *models.Event) bool {
	return a.Name == b.Name &&
		a.Description == b.Description &&
		a.Category == b.Category &&
		a.Venue == b.Venue &&
		a.Address == b.Address &&
		a.Latitude == b.Latitude &&
		a.Longitude == b.Longitude &&
		a.StartTime.Equal(b.StartTime)
}
