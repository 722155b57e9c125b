// Package supervisor runs the single long-lived loop that owns the link:
// read a line, decode it, update the store, run the control engine.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/speedwagon-io/tankgate/internal/config"
	"github.com/speedwagon-io/tankgate/internal/control"
	"github.com/speedwagon-io/tankgate/internal/lib/logger/sl"
	"github.com/speedwagon-io/tankgate/internal/link"
	"github.com/speedwagon-io/tankgate/internal/model"
	"github.com/speedwagon-io/tankgate/internal/state"
	"github.com/speedwagon-io/tankgate/internal/telemetry"
)

// Link is the part of link.Manager the loop drives.
type Link interface {
	Connect() error
	ReadLine(timeout time.Duration) (string, bool, error)
	SendCommand(cmd model.Command) error
	IsConnected() bool
	Close() error
}

type Manager struct {
	log      *slog.Logger
	cfg      *config.Config
	link     Link
	store    *state.Store
	engine   *control.Engine
	backoff  link.Backoff
	stopCh   chan struct{}
	stopOnce sync.Once

	connectedAt time.Time
}

func NewManager(
	log *slog.Logger,
	cfg *config.Config,
	lnk Link,
	store *state.Store,
	engine *control.Engine,
) *Manager {
	return &Manager{
		log:     log.With(slog.String("component", "supervisor")),
		cfg:     cfg,
		link:    lnk,
		store:   store,
		engine:  engine,
		backoff: link.NewFixedBackoff(cfg.Link.ReconnectInterval),
		stopCh:  make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.log.Info("starting supervisor",
		slog.Duration("cycle_interval", m.cfg.Supervisor.CycleInterval),
		slog.Duration("read_timeout", m.cfg.Link.ReadTimeout),
		slog.Duration("reconnect_interval", m.cfg.Link.ReconnectInterval),
	)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			m.log.Info("context cancelled, stopping supervisor")
			return
		case <-m.stopCh:
			m.log.Info("stop signal received, stopping supervisor")
			return
		default:
		}

		if !m.link.IsConnected() {
			if err := m.connect(); err != nil {
				attempt++
				delay := m.backoff.NextDelay(attempt)
				m.log.Warn("link connect failed, retrying",
					slog.Int("attempt", attempt),
					slog.Duration("retry_in", delay),
					sl.Err(err),
				)
				if !m.wait(ctx, delay) {
					return
				}
				continue
			}
			attempt = 0
		}

		if m.cycle(ctx) {
			if !m.wait(ctx, m.cfg.Supervisor.CycleInterval) {
				return
			}
		}
	}
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	if err := m.link.Close(); err != nil {
		m.log.Error("failed to close link", sl.Err(err))
	}
}

func (m *Manager) connect() error {
	m.store.MarkLinkLost()
	if err := m.link.Connect(); err != nil {
		return err
	}
	m.connectedAt = time.Now()
	m.store.MarkLinkUp()
	return nil
}

// cycle handles one line and reports whether a data frame was processed,
// which is what the loop paces on. Every path that applies no reading
// checks for stale telemetry.
func (m *Manager) cycle(ctx context.Context) bool {
	line, ok, err := m.link.ReadLine(m.cfg.Link.ReadTimeout)
	if err != nil {
		m.linkLost(err)
		return false
	}
	if !ok {
		m.checkStale()
		return false
	}

	res := telemetry.Decode(line)
	switch res.Kind {
	case telemetry.KindEmpty:
		m.checkStale()
		return false
	case telemetry.KindInformational:
		m.log.Info("device message", slog.String("line", res.Line))
		m.checkStale()
		return false
	case telemetry.KindMalformed:
		m.log.Warn("dropping malformed frame", slog.String("line", res.Line), sl.Err(res.Err))
		m.checkStale()
		return false
	}

	m.store.ApplyReading(res.Reading)
	m.log.Debug("reading applied",
		slog.Float64("level", res.Reading.WaterLevelPercent),
		slog.Float64("pressure", res.Reading.PressurePSI),
		slog.Float64("flow", res.Reading.FlowRateLPM),
	)

	if _, err := m.engine.Run(ctx, m.store, m.link); err != nil {
		m.linkLost(err)
	}
	return true
}

func (m *Manager) linkLost(err error) {
	m.log.Error("link lost, reconnecting",
		slog.Bool("write_error", errors.Is(err, link.ErrLinkWrite)),
		sl.Err(err),
	)
	m.store.MarkLinkLost()
}

func (m *Manager) checkStale() {
	staleAfter := m.cfg.Supervisor.StaleAfter
	if staleAfter <= 0 {
		return
	}

	since := m.connectedAt
	if last := m.store.Snapshot().LastUpdated; last.After(since) {
		since = last
	}

	if age := time.Since(since); age > staleAfter {
		m.store.SetAlarm(StaleAlarm(age))
	}
}

// StaleAlarm is the alarm text used while a connected device is silent.
func StaleAlarm(age time.Duration) string {
	return fmt.Sprintf("No telemetry for %ds", int(age.Seconds()))
}

func (m *Manager) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-m.stopCh:
		return false
	case <-t.C:
		return true
	}
}
