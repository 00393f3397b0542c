package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ==================== ENUMS ====================

type RunMode string

const (
	RunModeDeploy RunMode = "deploy"
	RunModeUnwind RunMode = "unwind"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

type LogSource string

const (
	LogSourceStdout LogSource = "stdout"
	LogSourceStderr LogSource = "stderr"
	LogSourceSystem LogSource = "system" // relay-generated lines (spawn failure, exit code)
)

// ==================== JSONB TYPES ====================

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return errors.New("failed to scan JSONB: invalid type")
	}
}

// ==================== ENTITIES ====================

// Run is one bounded execution of the deploy or unwind flow. Phase and
// summary state belong exclusively to the active run; the final snapshot
// is persisted when the stream ends.
type Run struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Mode       RunMode   `gorm:"size:10;not null" json:"mode"`
	Status     RunStatus `gorm:"size:10;not null;default:'running'" json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Duration   string    `gorm:"size:20" json:"duration,omitempty"`
	Phases     JSONB     `gorm:"type:jsonb" json:"phases"`
	Summary    JSONB     `gorm:"type:jsonb" json:"summary"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
}

// LogEntry is one immutable line of runner output. Entries are append-only
// and ordered by Seq within a run.
type LogEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RunID  string    `gorm:"size:36;index;not null" json:"run_id"`
	Seq    int       `gorm:"not null" json:"seq"`
	Source LogSource `gorm:"size:10;not null" json:"source"`
	Line   string    `gorm:"type:text" json:"line"`
}
