package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// StateHistoryRepository stores connection state changes so a device's
// link history survives restarts.
type StateHistoryRepository interface {
	RecordStateChange(ctx context.Context, c StateChange) error

	// GetHistory returns up to limit changes for deviceID, newest first.
	// A limit outside 1..200 is clamped.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateChange, error)

	// PruneHistory deletes changes recorded before cutoff and returns how
	// many rows went.
	PruneHistory(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteStateHistoryRepository implements StateHistoryRepository over the
// device_state_history table.
type SQLiteStateHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteStateHistoryRepository creates a state history repository on db.
func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{db: db}
}

// RecordStateChange appends c. A zero At is stamped with the current time.
func (r *SQLiteStateHistoryRepository) RecordStateChange(ctx context.Context, c StateChange) error {
	if c.DeviceID == "" {
		return fmt.Errorf("%w: state change without device id", ErrInvalidDevice)
	}
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_state_history (device_id, from_state, to_state, error, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.DeviceID, string(c.From), string(c.To), c.Error, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("inserting state change: %w", err)
	}
	return nil
}

// GetHistory implements StateHistoryRepository.
func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]StateChange, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT device_id, from_state, to_state, error, created_at
		 FROM device_state_history
		 WHERE device_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	history := make([]StateChange, 0, limit)
	for rows.Next() {
		var c StateChange
		var from, to, at string
		if err := rows.Scan(&c.DeviceID, &from, &to, &c.Error, &at); err != nil {
			return nil, fmt.Errorf("scanning state change: %w", err)
		}
		c.From, c.To = ConnectionState(from), ConnectionState(to)
		if c.At, err = parseTime("created_at", at); err != nil {
			return nil, err
		}
		history = append(history, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return history, nil
}

// PruneHistory implements StateHistoryRepository.
func (r *SQLiteStateHistoryRepository) PruneHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM device_state_history WHERE created_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

// HistoryRecorder moves state changes from registry listeners, which must
// not block, onto a goroutine that writes them to a repository.
type HistoryRecorder struct {
	repo      StateHistoryRepository
	changes   chan StateChange
	retention time.Duration
	logger    Logger
	now       func() time.Time
}

// historyQueueSize bounds the changes waiting to be written. Changes beyond
// it are dropped with a warning.
const historyQueueSize = 256

// pruneInterval is how often Run deletes changes older than the retention.
const pruneInterval = time.Hour

// NewHistoryRecorder creates a recorder writing to repo. A positive
// retention makes Run prune older changes every hour.
func NewHistoryRecorder(repo StateHistoryRepository, retention time.Duration) *HistoryRecorder {
	return &HistoryRecorder{
		repo:      repo,
		changes:   make(chan StateChange, historyQueueSize),
		retention: retention,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the recorder.
func (h *HistoryRecorder) SetLogger(logger Logger) {
	h.logger = logger
}

// Observe queues c for writing. Pass it to Registry.OnStateChange.
func (h *HistoryRecorder) Observe(c StateChange) {
	select {
	case h.changes <- c:
	default:
		h.logger.Warn("state history queue full, change dropped",
			"device_id", c.DeviceID, "from", c.From, "to", c.To)
	}
}

// Run writes queued changes until ctx is cancelled, then flushes whatever
// is still queued.
func (h *HistoryRecorder) Run(ctx context.Context) {
	var prune <-chan time.Time
	if h.retention > 0 {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		prune = ticker.C
		h.prune(ctx)
	}

	for {
		select {
		case c := <-h.changes:
			h.write(ctx, c)
		case <-prune:
			h.prune(ctx)
		case <-ctx.Done():
			h.drain()
			return
		}
	}
}

func (h *HistoryRecorder) drain() {
	for {
		select {
		case c := <-h.changes:
			h.write(context.Background(), c)
		default:
			return
		}
	}
}

func (h *HistoryRecorder) write(ctx context.Context, c StateChange) {
	if err := h.repo.RecordStateChange(ctx, c); err != nil {
		h.logger.Error("recording state change failed", "device_id", c.DeviceID, "error", err)
	}
}

func (h *HistoryRecorder) prune(ctx context.Context) {
	n, err := h.repo.PruneHistory(ctx, h.now().Add(-h.retention))
	if err != nil {
		h.logger.Error("pruning state history failed", "error", err)
		return
	}
	if n > 0 {
		h.logger.Debug("state history pruned", "rows", n)
	}
}
