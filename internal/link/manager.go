// Package link owns the byte-stream connection to the rig microcontroller.
// The Manager is the only component that writes to the device.
package link

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/speedwagon-io/tankgate/internal/config"
	"github.com/speedwagon-io/tankgate/internal/lib/logger/sl"
	"github.com/speedwagon-io/tankgate/internal/model"
)

var (
	ErrLinkUnavailable = errors.New("link unavailable")
	ErrLinkRead        = errors.New("link read error")
	ErrLinkWrite       = errors.New("link write error")
	ErrNotConnected    = errors.New("link not connected")
)

type Manager struct {
	log    *slog.Logger
	cfg    config.LinkConfig
	open   Opener
	dryRun bool

	// mu serialises port I/O and guards port and pending.
	mu      sync.Mutex
	port    Port
	pending []byte

	// statusMu guards the fields below and is never held across I/O, so
	// status readers do not wait on a blocked read. Lock order: mu, statusMu.
	statusMu  sync.Mutex
	session   string
	lastErr   error
	connected bool
}

type Option func(*Manager)

// WithDryRun makes SendCommand log commands instead of writing them.
func WithDryRun() Option {
	return func(m *Manager) { m.dryRun = true }
}

func NewManager(log *slog.Logger, cfg config.LinkConfig, open Opener, opts ...Option) *Manager {
	m := &Manager{
		log:  log.With(slog.String("component", "link"), slog.String("port", cfg.Port)),
		cfg:  cfg,
		open: open,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the device and discards up to DrainLines stale lines that
// were buffered before the gateway attached.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()

	port, err := m.open(m.cfg.Port, m.cfg.BaudRate)
	if err != nil {
		return m.setDown(fmt.Errorf("%w: %w", ErrLinkUnavailable, err))
	}

	if err := port.SetReadTimeout(m.pollInterval()); err != nil {
		port.Close()
		return m.setDown(fmt.Errorf("%w: failed to set read timeout: %w", ErrLinkUnavailable, err))
	}

	m.port = port
	m.pending = m.pending[:0]
	session := m.setUp()

	drained := 0
	for drained < m.cfg.DrainLines {
		line, ok, err := m.readLineLocked(m.cfg.DrainTimeout)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		drained++
		m.log.Debug("discarded stale line", slog.String("line", line))
	}

	m.log.Info("link connected",
		slog.String("session", session),
		slog.Int("baud_rate", m.cfg.BaudRate),
		slog.Int("drained_lines", drained),
	)

	return nil
}

// ReadLine returns one newline-terminated frame without the terminator.
// ok is false when timeout elapses first. Any I/O error disconnects the link.
func (m *Manager) ReadLine(timeout time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port == nil {
		return "", false, ErrNotConnected
	}
	return m.readLineLocked(timeout)
}

func (m *Manager) readLineLocked(timeout time.Duration) (string, bool, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 128)

	for {
		if line, ok := m.takeLine(); ok {
			return line, true, nil
		}

		if m.cfg.MaxLineLength > 0 && len(m.pending) >= m.cfg.MaxLineLength {
			line := string(m.pending)
			m.pending = m.pending[:0]
			m.log.Warn("line exceeded maximum length, flushing", slog.Int("max", m.cfg.MaxLineLength))
			return line, true, nil
		}

		if !time.Now().Before(deadline) {
			return "", false, nil
		}

		n, err := m.port.Read(buf)
		if err != nil {
			return "", false, m.failLocked(fmt.Errorf("%w: %w", ErrLinkRead, err))
		}
		m.pending = append(m.pending, buf[:n]...)
	}
}

func (m *Manager) takeLine() (string, bool) {
	idx := bytes.IndexByte(m.pending, '\n')
	if idx < 0 {
		return "", false
	}
	line := string(bytes.TrimRight(m.pending[:idx], "\r"))
	m.pending = append(m.pending[:0], m.pending[idx+1:]...)
	return line, true
}

// SendCommand writes one command line and flushes it. Commands are
// fire-and-forget: the next telemetry frame shows whether it took effect.
func (m *Manager) SendCommand(cmd model.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port == nil {
		return fmt.Errorf("%w: %w", ErrLinkWrite, ErrNotConnected)
	}

	if m.dryRun {
		m.log.Info("DRY-RUN command", slog.String("command", string(cmd)))
		return nil
	}

	if _, err := m.port.Write([]byte(string(cmd) + "\n")); err != nil {
		return m.failLocked(fmt.Errorf("%w: %w", ErrLinkWrite, err))
	}
	if err := m.port.Drain(); err != nil {
		return m.failLocked(fmt.Errorf("%w: flush: %w", ErrLinkWrite, err))
	}

	m.log.Info("command sent", slog.String("command", string(cmd)))
	return nil
}

func (m *Manager) IsConnected() bool {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	return m.connected
}

// Session identifies the current connection; empty when disconnected.
func (m *Manager) Session() string {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	if !m.connected {
		return ""
	}
	return m.session
}

func (m *Manager) LastError() error {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	return m.lastErr
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Manager) setUp() string {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.connected = true
	m.lastErr = nil
	m.session = uuid.New().String()
	return m.session
}

func (m *Manager) setDown(err error) error {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.connected = false
	if err != nil {
		m.lastErr = err
	}
	return err
}

func (m *Manager) failLocked(err error) error {
	m.log.Error("link lost", slog.String("session", m.Session()), sl.Err(err))
	if cerr := m.closeLocked(); cerr != nil {
		m.log.Debug("failed to close port after error", sl.Err(cerr))
	}
	return m.setDown(err)
}

func (m *Manager) closeLocked() error {
	m.setDown(nil)
	m.pending = m.pending[:0]
	if m.port == nil {
		return nil
	}
	err := m.port.Close()
	m.port = nil
	return err
}

func (m *Manager) pollInterval() time.Duration {
	if m.cfg.PollInterval <= 0 {
		return 100 * time.Millisecond
	}
	return m.cfg.PollInterval
}
