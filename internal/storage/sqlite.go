package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/speedwagon-io/tankgate/internal/model"
)

const (
	keyIntent = "intent_secondary"
	// fixed width so text ordering matches time ordering
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLite persists the secondary intent and fault records across restarts.
type SQLite struct {
	log *slog.Logger
	db  *sql.DB
}

func NewSQLite(log *slog.Logger, dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLite{
		log: log.With(slog.String("component", "storage")),
		db:  db,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *SQLite) migrate() error {
	query := `
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS faults (
			id TEXT PRIMARY KEY,
			detected_at TEXT NOT NULL,
			previous_pressure_psi REAL NOT NULL,
			pressure_psi REAL NOT NULL,
			flow_rate_lpm REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_faults_detected_at ON faults(detected_at);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLite) SaveIntent(ctx context.Context, on bool) error {
	query := `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, keyIntent, model.OnOff(on), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save intent: %w", err)
	}

	s.log.Debug("intent saved", slog.Bool("on", on))
	return nil
}

// LoadIntent returns false when nothing has been saved yet.
func (s *SQLite) LoadIntent(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", keyIntent).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load intent: %w", err)
	}
	return value == model.StateOn, nil
}

func (s *SQLite) SaveFault(ctx context.Context, f model.Fault) error {
	query := `
		INSERT INTO faults (id, detected_at, previous_pressure_psi, pressure_psi, flow_rate_lpm)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		f.ID,
		f.DetectedAt.UTC().Format(timeLayout),
		f.PreviousPressurePSI,
		f.PressurePSI,
		f.FlowRateLPM,
	)
	if err != nil {
		return fmt.Errorf("failed to store fault: %w", err)
	}

	s.log.Debug("fault stored", slog.String("id", f.ID))
	return nil
}

// LastFault returns nil when no fault has been recorded.
func (s *SQLite) LastFault(ctx context.Context) (*model.Fault, error) {
	query := `
		SELECT id, detected_at, previous_pressure_psi, pressure_psi, flow_rate_lpm
		FROM faults
		ORDER BY detected_at DESC
		LIMIT 1
	`

	var (
		f           model.Fault
		detectedStr string
	)
	err := s.db.QueryRowContext(ctx, query).Scan(&f.ID, &detectedStr, &f.PreviousPressurePSI, &f.PressurePSI, &f.FlowRateLPM)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last fault: %w", err)
	}

	f.DetectedAt, err = time.Parse(timeLayout, detectedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fault timestamp: %w", err)
	}

	return &f, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
