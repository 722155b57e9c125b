package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/speedwagon-io/tankgate/internal/model"
)

type fakePersister struct {
	mu      sync.Mutex
	intents []bool
	faults  []model.Fault
	err     error
}

func (p *fakePersister) SaveIntent(_ context.Context, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.intents = append(p.intents, on)
	return nil
}

func (p *fakePersister) SaveFault(_ context.Context, f model.Fault) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.faults = append(p.faults, f)
	return nil
}

func TestStore_Defaults(t *testing.T) {
	s := New(false)
	snap := s.Snapshot()

	if snap.AlarmText != AlarmNone {
		t.Errorf("default alarm should be %q, got %q", AlarmNone, snap.AlarmText)
	}
	if snap.LinkConnected {
		t.Error("link should start disconnected")
	}
	if snap.HasReading() {
		t.Error("fresh store should have no reading")
	}
	if snap.Reading != (model.Reading{}) {
		t.Errorf("default reading should be zero, got %+v", snap.Reading)
	}
	if snap.Intent {
		t.Error("default intent should be false")
	}
}

func TestStore_ApplyReadingTracksPreviousPressure(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(false, WithClock(func() time.Time { return fixed }))

	pressures := []float64{20, 13, 15.5}
	prev := 0.0
	for _, p := range pressures {
		s.ApplyReading(model.Reading{PressurePSI: p})
		snap := s.Snapshot()
		if snap.PreviousPressurePSI != prev {
			t.Errorf("after applying %.2f: previous = %.2f, want %.2f", p, snap.PreviousPressurePSI, prev)
		}
		if snap.Reading.PressurePSI != p {
			t.Errorf("current pressure = %.2f, want %.2f", snap.Reading.PressurePSI, p)
		}
		if !snap.LastUpdated.Equal(fixed) {
			t.Errorf("last updated = %v, want %v", snap.LastUpdated, fixed)
		}
		prev = p
	}
}

func TestStore_AlarmOverwrites(t *testing.T) {
	s := New(false)
	s.SetAlarm("first")
	s.SetAlarm("second")
	if got := s.Snapshot().AlarmText; got != "second" {
		t.Errorf("alarm = %q, want %q", got, "second")
	}
}

func TestStore_MarkLinkLost(t *testing.T) {
	s := New(false)
	s.SetLinkConnected(true)
	s.MarkLinkLost()

	snap := s.Snapshot()
	if snap.LinkConnected {
		t.Error("link should be disconnected")
	}
	if snap.AlarmText != AlarmConnectionLost {
		t.Errorf("alarm = %q, want %q", snap.AlarmText, AlarmConnectionLost)
	}
}

func TestStore_MarkLinkUpResetsAlarm(t *testing.T) {
	s := New(false)
	s.MarkLinkLost()
	s.MarkLinkUp()

	snap := s.Snapshot()
	if !snap.LinkConnected {
		t.Error("link should be connected")
	}
	if snap.AlarmText != AlarmNone {
		t.Errorf("alarm = %q, want %q", snap.AlarmText, AlarmNone)
	}
}

func TestStore_SetIntentPersistFailureLeavesMemory(t *testing.T) {
	p := &fakePersister{err: errors.New("disk full")}
	s := New(false, WithPersister(p))

	if err := s.SetIntent(context.Background(), true); err == nil {
		t.Fatal("expected error from failing persister")
	}
	if s.Intent() {
		t.Error("intent must not change when persistence fails")
	}
}

func TestStore_ClearIntentAlwaysApplies(t *testing.T) {
	p := &fakePersister{}
	s := New(true, WithPersister(p))

	p.err = errors.New("disk full")
	if err := s.ClearIntent(context.Background()); err == nil {
		t.Error("expected persistence error to be reported")
	}
	if s.Intent() {
		t.Error("intent must be cleared even when persistence fails")
	}
}

func TestStore_RecordFaultCopies(t *testing.T) {
	p := &fakePersister{}
	s := New(false, WithPersister(p))

	f := model.Fault{ID: "abc", PreviousPressurePSI: 20, PressurePSI: 13, FlowRateLPM: 2}
	if err := s.RecordFault(context.Background(), f); err != nil {
		t.Fatalf("record fault: %v", err)
	}

	snap := s.Snapshot()
	if snap.LastFault == nil || *snap.LastFault != f {
		t.Fatalf("last fault = %+v, want %+v", snap.LastFault, f)
	}
	snap.LastFault.PressurePSI = 99
	if s.Snapshot().LastFault.PressurePSI != 13 {
		t.Error("snapshot must not alias the stored fault")
	}
	if len(p.faults) != 1 {
		t.Errorf("expected 1 persisted fault, got %d", len(p.faults))
	}
}

// Every reading carries pressure == level, so a consistent snapshot always
// has previous pressure exactly one step behind the current reading.
func TestStore_ConcurrentSnapshotsAreConsistent(t *testing.T) {
	s := New(false)
	const steps = 2000

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 8)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				cur := snap.Reading.PressurePSI
				if cur != snap.Reading.WaterLevelPercent {
					errs <- "torn reading"
					return
				}
				if cur == 0 {
					continue
				}
				if snap.PreviousPressurePSI != cur-1 {
					errs <- "previous pressure out of step with current reading"
					return
				}
			}
		}()
	}

	for i := 1; i <= steps; i++ {
		s.ApplyReading(model.Reading{PressurePSI: float64(i), WaterLevelPercent: float64(i)})
	}
	close(stop)
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}

type blockingPersister struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPersister) SaveIntent(context.Context, bool) error {
	close(p.entered)
	<-p.release
	return nil
}

func (p *blockingPersister) SaveFault(context.Context, model.Fault) error { return nil }

func TestStore_SlowPersistenceDoesNotBlockReaders(t *testing.T) {
	p := &blockingPersister{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(false, WithPersister(p))

	done := make(chan error, 1)
	go func() { done <- s.SetIntent(context.Background(), true) }()
	<-p.entered

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		s.ApplyReading(model.Reading{PressurePSI: 10})
		if s.Snapshot().Intent {
			t.Error("intent must not change before persistence completes")
		}
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("readers and ApplyReading blocked behind a slow persister")
	}

	close(p.release)
	if err := <-done; err != nil {
		t.Fatalf("set intent: %v", err)
	}
	if !s.Intent() {
		t.Error("intent should be on after persistence completes")
	}
}
