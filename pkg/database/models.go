package database

import (
	"time"
)

// CallRecord is the persisted form of a completed call transcript
type CallRecord struct {
	ID            string     `json:"id" db:"id"`
	CallID        string     `json:"call_id" db:"call_id"`
	CallerNumber  string     `json:"caller_number" db:"caller_number"`
	Destination   string     `json:"destination" db:"destination"`
	StartTime     time.Time  `json:"start_time" db:"start_time"`
	AnswerTime    *time.Time `json:"answer_time,omitempty" db:"answer_time"`
	EndTime       *time.Time `json:"end_time,omitempty" db:"end_time"`
	Duration      float64    `json:"duration" db:"duration"`
	HangupCause   string     `json:"hangup_cause" db:"hangup_cause"`
	Languages     string     `json:"languages" db:"languages"`
	TotalSegments int        `json:"total_segments" db:"total_segments"`
	Status        string     `json:"status" db:"status"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// SegmentRecord is the persisted form of one transcript segment
type SegmentRecord struct {
	ID         string     `json:"id" db:"id"`
	CallID     string     `json:"call_id" db:"call_id"`
	Kind       string     `json:"kind" db:"kind"`
	Text       string     `json:"text" db:"text"`
	Speaker    string     `json:"speaker" db:"speaker"`
	StartTime  time.Time  `json:"start_time" db:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty" db:"end_time"`
	Confidence float64    `json:"confidence" db:"confidence"`
	Language   string     `json:"language" db:"language"`
	Vendor     string     `json:"vendor" db:"vendor"`
	SourceType string     `json:"source_type" db:"source_type"`
	Metadata   string     `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// AudioEventRecord is the persisted form of a playback or recording event
type AudioEventRecord struct {
	ID        string    `json:"id" db:"id"`
	CallID    string    `json:"call_id" db:"call_id"`
	Kind      string    `json:"kind" db:"kind"`
	FilePath  string    `json:"file_path" db:"file_path"`
	FileName  string    `json:"file_name" db:"file_name"`
	Duration  *float64  `json:"duration,omitempty" db:"duration"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Metadata  string    `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CallQuery holds filters for listing persisted calls
type CallQuery struct {
	CallerNumber string
	Destination  string
	Status       string
	StartAfter   *time.Time
	StartBefore  *time.Time
	Limit        int
	Offset       int
}
