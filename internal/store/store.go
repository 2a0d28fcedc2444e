// ABOUTME: SQLite-backed persistence for executions, task records, versions, and triggers
// ABOUTME: Implements the repository contracts with gorm models and JSON payload columns

package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/weftwork/weft/pkg/types"
)

// Store owns the database handle and hands out repositories
type Store struct {
	db *gorm.DB
}

// Open connects to a SQLite database at the given path and migrates the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database at '%s': %w", path, err)
	}
	if err := db.AutoMigrate(
		&executionRow{},
		&taskExecutionRow{},
		&workflowVersionRow{},
		&triggerStateRow{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// RecoverInterrupted marks executions left running by a previous process as
// failed. Called once at startup; mid-execution state does not survive a
// restart.
func (s *Store) RecoverInterrupted() (int64, error) {
	now := time.Now().UTC()
	result := s.db.Model(&executionRow{}).
		Where("status = ?", string(types.ExecutionRunning)).
		Updates(map[string]interface{}{
			"status":       string(types.ExecutionFailed),
			"errors_json":  encodeStrings([]string{"interrupted by engine restart"}),
			"completed_at": &now,
		})
	if result.Error != nil {
		return 0, &types.PersistenceError{Op: "recover interrupted executions", Cause: result.Error}
	}
	return result.RowsAffected, nil
}

// Executions returns the execution repository
func (s *Store) Executions() types.ExecutionRepository {
	return &executionRepository{db: s.db}
}

// TaskExecutions returns the task execution repository
func (s *Store) TaskExecutions() types.TaskExecutionRepository {
	return &taskExecutionRepository{db: s.db}
}

// Versions returns the workflow version repository
func (s *Store) Versions() types.WorkflowVersionRepository {
	return &versionRepository{db: s.db}
}

// TriggerStates returns the trigger state repository
func (s *Store) TriggerStates() types.TriggerStateRepository {
	return &triggerStateRepository{db: s.db}
}

// executionRow is the persisted shape of an ExecutionRecord
type executionRow struct {
	ID                string `gorm:"primaryKey"`
	WorkflowName      string `gorm:"index"`
	Namespace         string
	ParentExecutionID string `gorm:"index"`
	Status            string `gorm:"index"`
	InputJSON         string
	OutputJSON        string
	ErrorsJSON        string
	StartedAt         time.Time `gorm:"index"`
	CompletedAt       *time.Time
	DurationMs        int64
	GraphBuildMicros  int64
	Tasks             []taskExecutionRow `gorm:"foreignKey:ExecutionID;constraint:OnDelete:CASCADE"`
}

func (executionRow) TableName() string { return "executions" }

// taskExecutionRow is the persisted shape of a TaskExecutionRecord
type taskExecutionRow struct {
	ID          string `gorm:"primaryKey"`
	ExecutionID string `gorm:"index"`
	TaskID      string
	TaskRef     string
	Status      string
	InputJSON   string
	OutputJSON  string
	ErrorsJSON  string
	RetryCount  int
	StartedAt   time.Time `gorm:"index"`
	CompletedAt time.Time
	DurationMs  int64
}

func (taskExecutionRow) TableName() string { return "task_executions" }

// workflowVersionRow is one append-only version of a workflow definition
type workflowVersionRow struct {
	ID           string `gorm:"primaryKey"`
	WorkflowName string `gorm:"index"`
	VersionHash  string `gorm:"index"`
	Definition   string
	CreatedAt    time.Time `gorm:"index"`
}

func (workflowVersionRow) TableName() string { return "workflow_versions" }

// triggerStateRow records the last fire time per trigger name
type triggerStateRow struct {
	Name        string `gorm:"primaryKey"`
	LastFiredAt time.Time
}

func (triggerStateRow) TableName() string { return "trigger_states" }

func encodeMap(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func decodeMap(s string) map[string]interface{} {
	if s == "" {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func encodeValue(v interface{}) string {
	if v == nil {
		return ""
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func encodeStrings(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	encoded, err := json.Marshal(ss)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func decodeStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func decodeValue(s string) interface{} {
	if s == "" {
		return nil
	}
	var out interface{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
