// Package state holds the single shared record between the supervisory loop
// and the API. Every access goes through Store methods under one lock; the
// record itself is never handed out by reference.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/speedwagon-io/tankgate/internal/model"
)

const (
	AlarmNone           = "No alarms"
	AlarmConnectionLost = "Serial connection lost"
)

// Persister stores the values that must survive a restart.
type Persister interface {
	SaveIntent(ctx context.Context, on bool) error
	SaveFault(ctx context.Context, fault model.Fault) error
}

type Option func(*Store)

func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu  sync.RWMutex
	rec record

	// persistMu orders writes to the persister. It is taken before mu and
	// mu is never held across a persister call, so readers never wait on disk.
	persistMu sync.Mutex
	persister Persister
	now       func() time.Time
}

type record struct {
	reading       model.Reading
	prevPressure  float64
	alarm         string
	linkConnected bool
	lastUpdated   time.Time
	intent        bool
	lastFault     *model.Fault
}

func New(intent bool, opts ...Option) *Store {
	s := &Store{
		rec: record{
			alarm:  AlarmNone,
			intent: intent,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyReading shifts the current pressure into the previous slot, installs
// r and stamps the update time, all under one critical section.
func (s *Store) ApplyReading(r model.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.prevPressure = s.rec.reading.PressurePSI
	s.rec.reading = r
	s.rec.lastUpdated = s.now()
}

func (s *Store) SetAlarm(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.alarm = text
}

func (s *Store) SetLinkConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.linkConnected = connected
}

// MarkLinkUp sets the connected flag and resets the alarm in one step.
func (s *Store) MarkLinkUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.linkConnected = true
	s.rec.alarm = AlarmNone
}

// MarkLinkLost clears the connected flag and sets the connection-lost alarm
// in one step.
func (s *Store) MarkLinkLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.linkConnected = false
	s.rec.alarm = AlarmConnectionLost
}

func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := model.Snapshot{
		Reading:             s.rec.reading,
		PreviousPressurePSI: s.rec.prevPressure,
		AlarmText:           s.rec.alarm,
		LinkConnected:       s.rec.linkConnected,
		LastUpdated:         s.rec.lastUpdated,
		Intent:              s.rec.intent,
	}
	if s.rec.lastFault != nil {
		f := *s.rec.lastFault
		snap.LastFault = &f
	}
	return snap
}

func (s *Store) Intent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.intent
}

// SetIntent persists the new intent first, if a persister is configured, and
// leaves memory untouched when that fails.
func (s *Store) SetIntent(ctx context.Context, on bool) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveIntent(ctx, on); err != nil {
			return fmt.Errorf("failed to persist intent: %w", err)
		}
	}

	s.mu.Lock()
	s.rec.intent = on
	s.mu.Unlock()
	return nil
}

// ClearIntent forces the intent off. Memory is always updated; a persistence
// error is returned for logging only.
func (s *Store) ClearIntent(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.rec.intent = false
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveIntent(ctx, false); err != nil {
			return fmt.Errorf("failed to persist cleared intent: %w", err)
		}
	}
	return nil
}

func (s *Store) RecordFault(ctx context.Context, f model.Fault) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.rec.lastFault = &f
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveFault(ctx, f); err != nil {
			return fmt.Errorf("failed to persist fault: %w", err)
		}
	}
	return nil
}

// RestoreFault installs a previously persisted fault without re-saving it.
func (s *Store) RestoreFault(f model.Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.lastFault = &f
}
