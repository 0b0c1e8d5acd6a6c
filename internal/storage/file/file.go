// Package file keeps notification records in a JSON state file.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"eventmailer/internal/models"
	"eventmailer/internal/storage"
)

// State maps event ids to their notification records.
type State map[string]models.NotificationRecord

// Storage is a single-process store persisted to one JSON file.
// An empty path keeps the state in memory only.
type Storage struct {
	mu    sync.Mutex
	path  string
	state State
}

// New opens the state file at path, starting fresh if it does not exist.
func New(path string) (*Storage, error) {
	const op = "storage.file.New"

	s := &Storage{path: path, state: make(State)}
	if path == "" {
		return s, nil
	}

	state, err := loadState(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.state = state
	return s, nil
}

// UpsertPlan stores rec unless a record for the event exists. An existing
// record keeps its due times and start; only title, link and updated_at move.
func (s *Storage) UpsertPlan(_ context.Context, rec models.NotificationRecord) (models.NotificationRecord, bool, error) {
	const op = "storage.file.UpsertPlan"

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.state[rec.EventID]
	next := rec
	if exists {
		next = prev
		next.Title = rec.Title
		next.Link = rec.Link
		next.UpdatedAt = rec.UpdatedAt
	} else {
		next.AnnouncementSent = false
		next.AttendeeSent = false
	}

	s.state[rec.EventID] = next
	if err := s.saveState(); err != nil {
		if exists {
			s.state[rec.EventID] = prev
		} else {
			delete(s.state, rec.EventID)
		}
		return models.NotificationRecord{}, false, fmt.Errorf("%s: %w", op, err)
	}

	return next, !exists, nil
}

// Get returns the record of one event.
func (s *Storage) Get(_ context.Context, eventID string) (models.NotificationRecord, error) {
	const op = "storage.file.Get"

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.state[eventID]
	if !ok {
		return models.NotificationRecord{}, fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
	}
	return rec, nil
}

// IsSent reports whether kind was sent for the event.
func (s *Storage) IsSent(ctx context.Context, eventID string, kind models.Kind) (bool, error) {
	if err := storage.CheckKind(kind); err != nil {
		return false, err
	}
	rec, err := s.Get(ctx, eventID)
	if err != nil {
		return false, err
	}
	return rec.Sent(kind), nil
}

// MarkSent sets the sent flag of kind. Calling it twice is harmless.
func (s *Storage) MarkSent(_ context.Context, eventID string, kind models.Kind, at time.Time) error {
	const op = "storage.file.MarkSent"

	if err := storage.CheckKind(kind); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.state[eventID]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrRecordNotFound)
	}
	if prev.Sent(kind) {
		return nil
	}

	next := prev
	next.SetSent(kind)
	next.UpdatedAt = at
	s.state[eventID] = next

	if err := s.saveState(); err != nil {
		s.state[eventID] = prev
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DueNow yields the unsent records of kind whose due time is not after now,
// earliest first. The records are read when iteration starts.
func (s *Storage) DueNow(_ context.Context, now time.Time, kind models.Kind) iter.Seq2[models.NotificationRecord, error] {
	return func(yield func(models.NotificationRecord, error) bool) {
		if err := storage.CheckKind(kind); err != nil {
			yield(models.NotificationRecord{}, err)
			return
		}

		s.mu.Lock()
		due := make([]models.NotificationRecord, 0)
		for _, rec := range s.state {
			if !rec.Sent(kind) && !rec.Due(kind).After(now) {
				due = append(due, rec)
			}
		}
		s.mu.Unlock()

		sort.Slice(due, func(i, j int) bool {
			if due[i].Due(kind).Equal(due[j].Due(kind)) {
				return due[i].EventID < due[j].EventID
			}
			return due[i].Due(kind).Before(due[j].Due(kind))
		})

		for _, rec := range due {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Close is a no-op; every mutation is already on disk.
func (s *Storage) Close() error {
	return nil
}

func loadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state == nil {
		state = make(State)
	}
	return state, nil
}

// saveState writes the state through a temp file and rename. Callers hold s.mu.
func (s *Storage) saveState() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal notification state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".notification-state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
