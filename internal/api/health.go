package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/speedwagon-io/tankgate/internal/model"
)

const checkTimeout = 2 * time.Second

type Level string

const (
	LevelOK       Level = "ok"
	LevelDegraded Level = "degraded"
	LevelDown     Level = "down"
)

func (l Level) rank() int {
	switch l {
	case LevelDown:
		return 2
	case LevelDegraded:
		return 1
	default:
		return 0
	}
}

// CheckResult is one component's view of gateway health.
type CheckResult struct {
	Component string `json:"component"`
	Level     Level  `json:"level"`
	Detail    string `json:"detail,omitempty"`
}

// Report aggregates all checks; Level is the worst of them.
type Report struct {
	Level     Level         `json:"level"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

func (s *Server) report(ctx context.Context) Report {
	s.mu.RLock()
	checkers := append([]Checker(nil), s.checkers...)
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	rep := Report{Level: LevelOK, CheckedAt: time.Now().UTC()}
	for _, c := range checkers {
		res := c.Check(ctx)
		if res.Level.rank() > rep.Level.rank() {
			rep.Level = res.Level
		}
		rep.Checks = append(rep.Checks, res)
	}
	return rep
}

// handleHealth returns the full report; 503 only when something is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep := s.report(r.Context())
	code := http.StatusOK
	if rep.Level == LevelDown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// handleReady reports whether the gateway can currently supervise the rig.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.report(r.Context()).Level == LevelDown {
		http.Error(w, "NOT READY", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("OK"))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

// LinkHealthChecker reads only the link's status fields, which are never
// held across serial I/O.
type LinkHealthChecker struct {
	connected func() bool
	lastErr   func() error
}

func NewLinkHealthChecker(connected func() bool, lastErr func() error) *LinkHealthChecker {
	return &LinkHealthChecker{connected: connected, lastErr: lastErr}
}

func (c *LinkHealthChecker) Check(ctx context.Context) CheckResult {
	res := CheckResult{Component: "link", Level: LevelOK}
	if c.connected() {
		return res
	}
	res.Level = LevelDown
	res.Detail = "not connected"
	if err := c.lastErr(); err != nil {
		res.Detail = err.Error()
	}
	return res
}

// TelemetryHealthChecker degrades when no frame has been applied within
// staleAfter.
type TelemetryHealthChecker struct {
	snapshot   func() model.Snapshot
	staleAfter time.Duration
	now        func() time.Time
}

func NewTelemetryHealthChecker(snapshot func() model.Snapshot, staleAfter time.Duration) *TelemetryHealthChecker {
	return &TelemetryHealthChecker{snapshot: snapshot, staleAfter: staleAfter, now: time.Now}
}

func (c *TelemetryHealthChecker) Check(ctx context.Context) CheckResult {
	res := CheckResult{Component: "telemetry", Level: LevelOK}
	snap := c.snapshot()
	switch {
	case !snap.HasReading():
		res.Level, res.Detail = LevelDegraded, "no telemetry received yet"
	case c.staleAfter > 0 && c.now().Sub(snap.LastUpdated) > c.staleAfter:
		age := c.now().Sub(snap.LastUpdated).Truncate(time.Second)
		res.Level, res.Detail = LevelDegraded, fmt.Sprintf("last frame %s ago", age)
	}
	return res
}

type StorageHealthChecker struct {
	ping func(ctx context.Context) error
}

func NewStorageHealthChecker(ping func(ctx context.Context) error) *StorageHealthChecker {
	return &StorageHealthChecker{ping: ping}
}

func (c *StorageHealthChecker) Check(ctx context.Context) CheckResult {
	if err := c.ping(ctx); err != nil {
		return CheckResult{Component: "storage", Level: LevelDown, Detail: err.Error()}
	}
	return CheckResult{Component: "storage", Level: LevelOK}
}
