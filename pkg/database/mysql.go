package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/metrics"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MySQLConfig holds MySQL connection configuration
type MySQLConfig struct {
	Host            string
	Port            int
	Database        string
	Username        string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Charset         string
}

// MySQLStore persists transcript data in MySQL
type MySQLStore struct {
	db     *sql.DB
	config MySQLConfig
	logger *logrus.Logger
}

// NewMySQLStore opens a MySQL connection, verifies it and runs migrations
func NewMySQLStore(config MySQLConfig, logger *logrus.Logger) (*MySQLStore, error) {
	if config.Charset == "" {
		config.Charset = "utf8mb4"
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 5
	}
	if config.ConnMaxLifetime <= 0 {
		config.ConnMaxLifetime = time.Hour
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=UTC",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
		config.Charset,
	)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &MySQLStore{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"host":     config.Host,
		"port":     config.Port,
		"database": config.Database,
	}).Info("Connected to MySQL database")

	return store, nil
}

// Close closes the database connection
func (s *MySQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health checks database connectivity
func (s *MySQLStore) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *MySQLStore) migrate() error {
	migrations := []string{
		createCallsTable,
		createSegmentsTable,
		createAudioEventsTable,
	}

	for i, migration := range migrations {
		s.logger.WithField("migration", i+1).Debug("Running migration")

		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	s.logger.Info("Database migrations completed successfully")
	return nil
}

// InsertCallRecord persists a completed call record
func (s *MySQLStore) InsertCallRecord(ctx context.Context, record *CallRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = timestampOrNow(record.CreatedAt)
	record.UpdatedAt = time.Now()

	query := `
		INSERT INTO calls (
			id, call_id, caller_number, destination, start_time, answer_time,
			end_time, duration, hangup_cause, languages, total_segments,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			end_time = VALUES(end_time), duration = VALUES(duration),
			hangup_cause = VALUES(hangup_cause), languages = VALUES(languages),
			total_segments = VALUES(total_segments), status = VALUES(status),
			updated_at = VALUES(updated_at)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.CallID, record.CallerNumber, record.Destination,
		record.StartTime, record.AnswerTime, record.EndTime, record.Duration,
		record.HangupCause, record.Languages, record.TotalSegments,
		record.Status, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		metrics.RecordStoreWrite("call", "error")
		s.logger.WithError(err).WithField("call_id", record.CallID).Error("Failed to insert call record")
		return fmt.Errorf("failed to insert call record: %w", err)
	}

	metrics.RecordStoreWrite("call", "success")
	s.logger.WithFields(logrus.Fields{
		"call_id":        record.CallID,
		"total_segments": record.TotalSegments,
		"status":         record.Status,
	}).Info("Call record persisted")

	return nil
}

// upsertSegmentQuery keeps segment writes idempotent by id: the persistence
// lanes write segments as they close, and the end-of-call aggregation batch
// rewrites the same ids.
const upsertSegmentQuery = `
	INSERT INTO segments (
		id, call_id, kind, text, speaker, start_time, end_time,
		confidence, language, vendor, source_type, metadata, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		text = VALUES(text), end_time = VALUES(end_time),
		confidence = VALUES(confidence), language = VALUES(language),
		metadata = VALUES(metadata)
`

// InsertSegment persists one transcript segment, updating the row in place
// when the id already exists
func (s *MySQLStore) InsertSegment(ctx context.Context, record *SegmentRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = timestampOrNow(record.CreatedAt)

	_, err := s.db.ExecContext(ctx, upsertSegmentQuery,
		record.ID, record.CallID, record.Kind, record.Text, record.Speaker,
		record.StartTime, record.EndTime, record.Confidence, record.Language,
		record.Vendor, record.SourceType, record.Metadata, record.CreatedAt,
	)
	if err != nil {
		metrics.RecordStoreWrite("segment", "error")
		s.logger.WithError(err).WithFields(logrus.Fields{
			"call_id": record.CallID,
			"kind":    record.Kind,
		}).Error("Failed to insert segment")
		return fmt.Errorf("failed to insert segment: %w", err)
	}

	metrics.RecordStoreWrite("segment", "success")
	return nil
}

// InsertSegments persists a batch of segments in one transaction. Segments
// already written by a persistence lane are updated, not duplicated.
func (s *MySQLStore) InsertSegments(ctx context.Context, records []SegmentRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for i := range records {
		record := &records[i]
		if record.ID == "" {
			record.ID = uuid.New().String()
		}
		record.CreatedAt = timestampOrNow(record.CreatedAt)

		if _, err := tx.ExecContext(ctx, upsertSegmentQuery,
			record.ID, record.CallID, record.Kind, record.Text, record.Speaker,
			record.StartTime, record.EndTime, record.Confidence, record.Language,
			record.Vendor, record.SourceType, record.Metadata, record.CreatedAt,
		); err != nil {
			tx.Rollback()
			metrics.RecordStoreWrite("segment", "error")
			return fmt.Errorf("failed to insert segment batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordStoreWrite("segment", "error")
		return fmt.Errorf("failed to commit segment batch: %w", err)
	}

	metrics.RecordStoreWrite("segment", "success")
	s.logger.WithField("count", len(records)).Debug("Segment batch persisted")
	return nil
}

// InsertAudioEvent persists a playback or recording event
func (s *MySQLStore) InsertAudioEvent(ctx context.Context, record *AudioEventRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = timestampOrNow(record.CreatedAt)

	query := `
		INSERT INTO audio_events (
			id, call_id, kind, file_path, file_name, duration,
			timestamp, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.CallID, record.Kind, record.FilePath,
		record.FileName, record.Duration, record.Timestamp,
		record.Metadata, record.CreatedAt,
	)
	if err != nil {
		metrics.RecordStoreWrite("audio_event", "error")
		s.logger.WithError(err).WithField("call_id", record.CallID).Error("Failed to insert audio event")
		return fmt.Errorf("failed to insert audio event: %w", err)
	}

	metrics.RecordStoreWrite("audio_event", "success")
	return nil
}

// GetCallRecord retrieves a persisted call by its switch call ID
func (s *MySQLStore) GetCallRecord(ctx context.Context, callID string) (*CallRecord, error) {
	query := `
		SELECT id, call_id, caller_number, destination, start_time, answer_time,
		       end_time, duration, hangup_cause, languages, total_segments,
		       status, created_at, updated_at
		FROM calls WHERE call_id = ?
	`

	record := &CallRecord{}
	err := s.db.QueryRowContext(ctx, query, callID).Scan(
		&record.ID, &record.CallID, &record.CallerNumber, &record.Destination,
		&record.StartTime, &record.AnswerTime, &record.EndTime, &record.Duration,
		&record.HangupCause, &record.Languages, &record.TotalSegments,
		&record.Status, &record.CreatedAt, &record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}

	return record, nil
}

// ListCallRecords retrieves persisted calls matching the query filters
func (s *MySQLStore) ListCallRecords(ctx context.Context, query CallQuery) ([]CallRecord, error) {
	var conditions []string
	var args []interface{}

	if query.CallerNumber != "" {
		conditions = append(conditions, "caller_number = ?")
		args = append(args, query.CallerNumber)
	}
	if query.Destination != "" {
		conditions = append(conditions, "destination = ?")
		args = append(args, query.Destination)
	}
	if query.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, query.Status)
	}
	if query.StartAfter != nil {
		conditions = append(conditions, "start_time >= ?")
		args = append(args, *query.StartAfter)
	}
	if query.StartBefore != nil {
		conditions = append(conditions, "start_time <= ?")
		args = append(args, *query.StartBefore)
	}

	sqlQuery := `
		SELECT id, call_id, caller_number, destination, start_time, answer_time,
		       end_time, duration, hangup_cause, languages, total_segments,
		       status, created_at, updated_at
		FROM calls
	`
	if len(conditions) > 0 {
		sqlQuery += " WHERE " + strings.Join(conditions, " AND ")
	}
	sqlQuery += " ORDER BY start_time DESC"

	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	sqlQuery += " LIMIT ? OFFSET ?"
	args = append(args, limit, query.Offset)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	defer rows.Close()

	var records []CallRecord
	for rows.Next() {
		var record CallRecord
		if err := rows.Scan(
			&record.ID, &record.CallID, &record.CallerNumber, &record.Destination,
			&record.StartTime, &record.AnswerTime, &record.EndTime, &record.Duration,
			&record.HangupCause, &record.Languages, &record.TotalSegments,
			&record.Status, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// ListSegments retrieves every segment for a call ordered by start time
func (s *MySQLStore) ListSegments(ctx context.Context, callID string) ([]SegmentRecord, error) {
	query := `
		SELECT id, call_id, kind, text, speaker, start_time, end_time,
		       confidence, language, vendor, source_type, metadata, created_at
		FROM segments WHERE call_id = ? ORDER BY start_time ASC
	`

	rows, err := s.db.QueryContext(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	var records []SegmentRecord
	for rows.Next() {
		var record SegmentRecord
		if err := rows.Scan(
			&record.ID, &record.CallID, &record.Kind, &record.Text, &record.Speaker,
			&record.StartTime, &record.EndTime, &record.Confidence, &record.Language,
			&record.Vendor, &record.SourceType, &record.Metadata, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

var _ Store = (*MySQLStore)(nil)

// Database schema definitions
const createCallsTable = `
CREATE TABLE IF NOT EXISTS calls (
    id VARCHAR(36) PRIMARY KEY,
    call_id VARCHAR(255) NOT NULL,
    caller_number VARCHAR(64) NOT NULL DEFAULT '',
    destination VARCHAR(64) NOT NULL DEFAULT '',
    start_time TIMESTAMP NOT NULL,
    answer_time TIMESTAMP NULL,
    end_time TIMESTAMP NULL,
    duration DOUBLE NOT NULL DEFAULT 0,
    hangup_cause VARCHAR(64) NOT NULL DEFAULT '',
    languages VARCHAR(255) NOT NULL DEFAULT '',
    total_segments INT NOT NULL DEFAULT 0,
    status ENUM('active', 'completed', 'failed') NOT NULL DEFAULT 'completed',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_call_id (call_id),
    INDEX idx_caller_number (caller_number),
    INDEX idx_destination (destination),
    INDEX idx_start_time (start_time),
    INDEX idx_status (status)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createSegmentsTable = `
CREATE TABLE IF NOT EXISTS segments (
    id VARCHAR(36) PRIMARY KEY,
    call_id VARCHAR(255) NOT NULL,
    kind VARCHAR(32) NOT NULL,
    text TEXT NOT NULL,
    speaker VARCHAR(32) NOT NULL,
    start_time TIMESTAMP(3) NOT NULL,
    end_time TIMESTAMP(3) NULL,
    confidence DECIMAL(4,3) NOT NULL DEFAULT 0,
    language VARCHAR(16) NOT NULL DEFAULT '',
    vendor VARCHAR(64) NOT NULL DEFAULT '',
    source_type VARCHAR(64) NOT NULL DEFAULT '',
    metadata TEXT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    INDEX idx_call_id (call_id),
    INDEX idx_kind (kind),
    INDEX idx_start_time (start_time),
    FULLTEXT(text)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createAudioEventsTable = `
CREATE TABLE IF NOT EXISTS audio_events (
    id VARCHAR(36) PRIMARY KEY,
    call_id VARCHAR(255) NOT NULL,
    kind VARCHAR(32) NOT NULL,
    file_path VARCHAR(512) NOT NULL DEFAULT '',
    file_name VARCHAR(255) NOT NULL DEFAULT '',
    duration DOUBLE NULL,
    timestamp TIMESTAMP(3) NOT NULL,
    metadata TEXT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    INDEX idx_call_id (call_id),
    INDEX idx_kind (kind),
    INDEX idx_timestamp (timestamp)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`
