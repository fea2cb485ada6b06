package output

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/inference"
	"github.com/tphakala/pitchnet-go/internal/logger"
)

// PitchRecord is one persisted result.
type PitchRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"size:36;index:idx_session_seq,priority:1" json:"sessionId"`
	Sequence   uint64    `gorm:"index:idx_session_seq,priority:2" json:"sequence"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
	Model      string    `gorm:"size:255" json:"model"`
	ChunkSize  int       `json:"chunkSize"`
	Pitch      float32   `json:"pitch"`
	RawPitch   float32   `json:"rawPitch"`
	Confidence float32   `json:"confidence"`
	Amplitude  float32   `json:"amplitude"`
	Gated      bool      `json:"gated"`
	Probe      bool      `json:"probe"`
	LatencyUs  int64     `json:"latencyUs"`
}

// TableName keeps the table name stable across struct renames.
func (PitchRecord) TableName() string { return "pitch_results" }

func recordFrom(r inference.Result) PitchRecord {
	return PitchRecord{
		SessionID:  r.SessionID,
		Sequence:   r.Sequence,
		Timestamp:  r.Timestamp,
		Model:      r.Model,
		ChunkSize:  r.ChunkSize,
		Pitch:      r.Pitch,
		RawPitch:   r.RawPitch,
		Confidence: r.Confidence,
		Amplitude:  r.Amplitude,
		Gated:      r.Gated,
		Probe:      r.Probe,
		LatencyUs:  r.Latency.Microseconds(),
	}
}

// HistoryConfig configures the history store.
type HistoryConfig struct {
	Driver        string // sqlite or mysql
	DSN           string
	BatchSize     int
	FlushInterval time.Duration
	Retention     time.Duration // 0 keeps everything
	SlowThreshold time.Duration
	SkipGated     bool
}

// HistorySink batches results into a SQL database through GORM.
type HistorySink struct {
	db      *gorm.DB
	cfg     HistoryConfig
	pending []PitchRecord
	lastAt  time.Time
	log     logger.Logger
}

// OpenHistory opens the database, migrates the schema and applies retention.
func OpenHistory(cfg HistoryConfig) (*HistorySink, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	log := GetLogger().Module("history")

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, cfg.SlowThreshold),
	})
	if err != nil {
		return nil, historyError(err, cfg, "open")
	}
	if err := db.AutoMigrate(&PitchRecord{}); err != nil {
		return nil, historyError(err, cfg, "migrate")
	}

	s := &HistorySink{
		db:      db,
		cfg:     cfg,
		pending: make([]PitchRecord, 0, cfg.BatchSize),
		lastAt:  time.Now(),
		log:     log,
	}
	if cfg.Retention > 0 {
		if _, err := s.Prune(context.Background(), time.Now().Add(-cfg.Retention)); err != nil {
			log.Warn("history retention failed", logger.Error(err))
		}
	}
	log.Info("result history opened",
		logger.String("driver", cfg.Driver),
		logger.Int("batch_size", cfg.BatchSize))
	return s, nil
}

func dialectorFor(cfg HistoryConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		if dir := filepath.Dir(cfg.DSN); dir != "." && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, historyError(err, cfg, "mkdir")
			}
		}
		return sqlite.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, errors.Newf("unsupported history driver %q", cfg.Driver).
			Component("output").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func historyError(err error, cfg HistoryConfig, op string) error {
	return errors.New(err).
		Component("output").
		Category(errors.CategoryDatabase).
		Context("driver", cfg.Driver).
		Context("operation", op).
		Build()
}

func (s *HistorySink) Name() string { return "history" }

// Write buffers r and flushes when the batch is full or the flush interval
// has elapsed.
func (s *HistorySink) Write(ctx context.Context, r inference.Result) error {
	if s.cfg.SkipGated && r.Gated {
		return nil
	}
	s.pending = append(s.pending, recordFrom(r))
	if len(s.pending) >= s.cfg.BatchSize || time.Since(s.lastAt) >= s.cfg.FlushInterval {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes pending records. Records are dropped on error so a broken
// database cannot grow memory without bound.
func (s *HistorySink) Flush(ctx context.Context) error {
	s.lastAt = time.Now()
	if len(s.pending) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).CreateInBatches(s.pending, s.cfg.BatchSize).Error
	n := len(s.pending)
	s.pending = s.pending[:0]
	if err != nil {
		return errors.New(err).
			Component("output").
			Category(errors.CategoryDatabase).
			Context("operation", "insert").
			Context("records", n).
			Build()
	}
	return nil
}

// Recent returns up to limit records for sessionID, newest first. An empty
// sessionID matches all sessions.
func (s *HistorySink) Recent(ctx context.Context, sessionID string, limit int) ([]PitchRecord, error) {
	var out []PitchRecord
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, historyError(err, s.cfg, "query")
	}
	return out, nil
}

// Prune deletes records older than before.
func (s *HistorySink) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&PitchRecord{})
	if res.Error != nil {
		return 0, historyError(res.Error, s.cfg, "prune")
	}
	return res.RowsAffected, nil
}

// Close flushes pending records and closes the connection pool.
func (s *HistorySink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	flushErr := s.Flush(ctx)

	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Join(flushErr, historyError(err, s.cfg, "close"))
	}
	return errors.Join(flushErr, sqlDB.Close())
}
