// Package completion is the prayer completion log: at most one record per
// (day, kind), created on first write and mutated in place afterwards.
//
// Two write paths exist and differ on a missing record:
//   - Toggle creates the record as completed.
//   - Upsert with completed=false is a no-op; with completed=true it creates.
//
// CompletedAt is set only while a record is completed.
package completion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/salah/internal/prayer"
)

var (
	// ErrStoreUnavailable wraps any backend failure. Callers report the
	// affected statistics as unavailable for that call only.
	ErrStoreUnavailable = errors.New("completion store unavailable")

	// ErrNotFound is returned by Get when no record exists.
	ErrNotFound = errors.New("completion record not found")
)

// Record is one logged prayer.
type Record struct {
	ID          uuid.UUID   `json:"id"`
	Date        time.Time   `json:"date"`
	Kind        prayer.Kind `json:"kind"`
	Completed   bool        `json:"completed"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// DateKey is the record's YYYY-MM-DD day.
func (r Record) DateKey() string { return prayer.DateKey(r.Date) }

// Store is the completion log backend.
type Store interface {
	// Query returns records whose day lies in [from, to], both inclusive,
	// ordered by day then kind.
	Query(ctx context.Context, from, to time.Time) ([]Record, error)
	// Get returns the record for (date, kind) or ErrNotFound.
	Get(ctx context.Context, date time.Time, kind prayer.Kind) (Record, error)
	// Upsert sets the completed flag. Returns the stored record, or a zero-ID
	// record when completed=false and nothing existed.
	Upsert(ctx context.Context, date time.Time, kind prayer.Kind, completed bool) (Record, error)
	// Toggle flips the flag, creating a completed record if none exists.
	Toggle(ctx context.Context, date time.Time, kind prayer.Kind) (Record, error)
}

// SortRecords orders by day then canonical kind order.
func SortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].DateKey(), recs[j].DateKey()
		if a != b {
			return a < b
		}
		return recs[i].Kind < recs[j].Kind
	})
}

// --------------------------------------------------------------------------
// In-memory store
// --------------------------------------------------------------------------

type recordKey struct {
	day  string
	kind prayer.Kind
}

// MemoryStore keeps records in process. Used when no database is configured
// and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[recordKey]Record
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{recs: make(map[recordKey]Record), now: now}
}

func (m *MemoryStore) Query(_ context.Context, from, to time.Time) ([]Record, error) {
	lo, hi := prayer.DateKey(from), prayer.DateKey(to)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for k, r := range m.recs {
		if k.day >= lo && k.day <= hi {
			out = append(out, r)
		}
	}
	SortRecords(out)
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, date time.Time, kind prayer.Kind) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recs[recordKey{prayer.DateKey(date), kind}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) Upsert(_ context.Context, date time.Time, kind prayer.Kind, completed bool) (Record, error) {
	if err := checkKind(kind); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{prayer.DateKey(date), kind}
	r, ok := m.recs[key]
	if !ok {
		if !completed {
			return Record{Date: prayer.StartOfDay(date), Kind: kind}, nil
		}
		r = Record{ID: uuid.New(), Date: prayer.StartOfDay(date), Kind: kind}
	}
	m.recs[key] = m.mark(r, completed)
	return m.recs[key], nil
}

func (m *MemoryStore) Toggle(_ context.Context, date time.Time, kind prayer.Kind) (Record, error) {
	if err := checkKind(kind); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{prayer.DateKey(date), kind}
	r, ok := m.recs[key]
	if !ok {
		r = Record{ID: uuid.New(), Date: prayer.StartOfDay(date), Kind: kind}
	}
	m.recs[key] = m.mark(r, !r.Completed)
	return m.recs[key], nil
}

func (m *MemoryStore) mark(r Record, completed bool) Record {
	r.Completed = completed
	r.CompletedAt = nil
	if completed {
		at := m.now()
		r.CompletedAt = &at
	}
	return r
}

func checkKind(k prayer.Kind) error {
	if !k.Obligatory() {
		return fmt.Errorf("%s is not an obligatory prayer", k.Key())
	}
	return nil
}
