// Package query serves paginated reads over the event log.
package query

import (
	"strconv"

	"chaos-organizer/internal/models"
)

const (
	DefaultOffset = 0
	DefaultLimit  = 10
	// DefaultMaxLimit caps a page when no explicit maximum is configured.
	DefaultMaxLimit = 500
)

// Snapshotter exposes the log as of the call.
type Snapshotter interface {
	Snapshot() []models.Event
}

type Service struct {
	log      Snapshotter
	maxLimit int
}

func NewService(log Snapshotter, maxLimit int) *Service {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	return &Service{log: log, maxLimit: maxLimit}
}

// Page returns at most limit events in arrival order, starting at offset.
// Out-of-range arguments are clamped: a negative offset reads from the start,
// a non-positive limit falls back to DefaultLimit and anything above the
// configured maximum is capped.
func (s *Service) Page(offset, limit int) []models.Event {
	if offset < 0 {
		offset = DefaultOffset
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	events := s.log.Snapshot()
	if offset >= len(events) {
		return []models.Event{}
	}
	end := offset + limit
	if end > len(events) {
		end = len(events)
	}

	page := make([]models.Event, end-offset)
	copy(page, events[offset:end])
	return page
}

// ParsePage converts raw query parameters, falling back to the defaults for
// missing or unparsable values.
func ParsePage(rawOffset, rawLimit string) (offset, limit int) {
	offset, limit = DefaultOffset, DefaultLimit
	if v, err := strconv.Atoi(rawOffset); err == nil {
		offset = v
	}
	if v, err := strconv.Atoi(rawLimit); err == nil {
		limit = v
	}
	return offset, limit
}
