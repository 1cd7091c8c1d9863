// Package inmem provides an in-memory runlog.Store for tests and local runs.
// It is not durable.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/aaaa47080/stock-agent-sub000/runtime/runlog"
)

// Store implements runlog.Store in memory. Event ids are 1-based sequence
// numbers per run.
type Store struct {
	mu     sync.Mutex
	events map[string][]*runlog.Event
}

var _ runlog.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{events: make(map[string][]*runlog.Event)}
}

// Append implements runlog.Store.
func (s *Store) Append(_ context.Context, e *runlog.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = strconv.Itoa(len(s.events[e.RunID]) + 1)
	ev := *e
	ev.Payload = append([]byte(nil), e.Payload...)
	s.events[e.RunID] = append(s.events[e.RunID], &ev)
	return nil
}

// List implements runlog.Store.
func (s *Store) List(_ context.Context, runID string, cursor string, limit int) (runlog.Page, error) {
	if runID == "" {
		return runlog.Page{}, errors.New("run id is required")
	}
	if limit <= 0 {
		return runlog.Page{}, errors.New("limit must be > 0")
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return runlog.Page{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		start = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[runID]
	if start >= len(all) {
		return runlog.Page{}, nil
	}
	end := min(start+limit, len(all))
	page := runlog.Page{Events: make([]*runlog.Event, 0, end-start)}
	for _, e := range all[start:end] {
		cp := *e
		page.Events = append(page.Events, &cp)
	}
	if end < len(all) {
		page.NextCursor = page.Events[len(page.Events)-1].ID
	}
	return page, nil
}
