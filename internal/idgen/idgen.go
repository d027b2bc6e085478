// Package idgen assigns event ids and generates blob storage names.
package idgen

import (
	"fmt"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet is the character set of generated blob names. It contains no path
// separators or dots, so a generated name is always a single path element.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters in a blob name.
var Length = 21

// Name returns a new random blob name.
func Name() (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return id, nil
}

// Sequence hands out event ids shaped like millisecond epoch timestamps that
// are strictly increasing even when several events land in the same tick.
type Sequence struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewSequence() *Sequence {
	return &Sequence{now: time.Now}
}

// Next returns the next id and the acceptance time it was derived from.
func (s *Sequence) Next() (int64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now()
	id := t.UnixMilli()
	if id <= s.last {
		id = s.last + 1
	}
	s.last = id
	return id, t
}

// Observe moves the sequence past id, used when a stored log is loaded.
func (s *Sequence) Observe(id int64) {
	s.mu.Lock()
	if id > s.last {
		s.last = id
	}
	s.mu.Unlock()
}
