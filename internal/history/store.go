package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/guardline-ai/guardline-core/internal/analysis"
	"github.com/guardline-ai/guardline-core/internal/config"
	_ "modernc.org/sqlite"
)

// CallRecord summarizes one completed monitored call.
type CallRecord struct {
	ID         int64
	SessionID  string
	RiskLevel  analysis.RiskLevel
	RiskScore  int
	Indicators []analysis.IndicatorID // detected ids only
	Duration   time.Duration
	CreatedAt  time.Time
}

// Store persists completed call records in SQLite. In ephemeral retention
// mode every operation is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS call_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    risk_level TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    indicators TEXT,
    duration_ms INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_records_created ON call_records(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one completed call record.
func (s *Store) Append(ctx context.Context, rec CallRecord) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	ids := make([]string, 0, len(rec.Indicators))
	for _, id := range rec.Indicators {
		ids = append(ids, string(id))
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_records(session_id, risk_level, risk_score, indicators, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		rec.SessionID, string(rec.RiskLevel), rec.RiskScore, strings.Join(ids, ","),
		rec.Duration.Milliseconds(), rec.CreatedAt)
	return err
}

// Recent retrieves up to limit records ordered newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]CallRecord, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, risk_level, risk_score, indicators, duration_ms, created_at
		 FROM call_records ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CallRecord
	for rows.Next() {
		var rec CallRecord
		var level, indicators, created string
		var durationMS int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &level, &rec.RiskScore, &indicators, &durationMS, &created); err != nil {
			return nil, err
		}
		rec.RiskLevel = analysis.RiskLevel(level)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if indicators != "" {
			for _, id := range strings.Split(indicators, ",") {
				rec.Indicators = append(rec.Indicators, analysis.IndicatorID(id))
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = ts
		} else {
			s.log.Warn("unparseable created_at on call record",
				slog.Int64("id", rec.ID),
				slog.String("created_at", created),
				slog.String("error", err.Error()))
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune applies the configured retention by age and record count.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM call_records WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRecords > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM call_records WHERE id IN (
			SELECT id FROM call_records ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRecords)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
