// ABOUTME: Repository implementations over the gorm models
// ABOUTME: Saves are upserts by primary key; lists carry the contract ordering

package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weftwork/weft/pkg/types"
)

type executionRepository struct {
	db *gorm.DB
}

func (r *executionRepository) Save(record *types.ExecutionRecord) error {
	row := toExecutionRow(record)
	err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).
		Omit("Tasks").
		Create(&row).Error
	if err != nil {
		return &types.PersistenceError{Op: "save execution", Cause: err}
	}
	return nil
}

func (r *executionRepository) Get(id string) (*types.ExecutionRecord, error) {
	var row executionRow
	err := r.db.Preload("Tasks", func(db *gorm.DB) *gorm.DB {
		return db.Order("started_at asc")
	}).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &types.PersistenceError{Op: "get execution", Cause: err}
	}
	return fromExecutionRow(&row), nil
}

func (r *executionRepository) List(filter types.ExecutionFilter) ([]*types.ExecutionRecord, error) {
	query := r.db.Model(&executionRow{}).Order("started_at desc")
	if filter.WorkflowName != "" {
		query = query.Where("workflow_name = ?", filter.WorkflowName)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Skip > 0 {
		query = query.Offset(filter.Skip)
	}
	if filter.Take > 0 {
		query = query.Limit(filter.Take)
	}

	var rows []executionRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, &types.PersistenceError{Op: "list executions", Cause: err}
	}
	out := make([]*types.ExecutionRecord, len(rows))
	for i := range rows {
		out[i] = fromExecutionRow(&rows[i])
	}
	return out, nil
}

type taskExecutionRepository struct {
	db *gorm.DB
}

func (r *taskExecutionRepository) Save(record *types.TaskExecutionRecord) error {
	row := toTaskRow(record)
	err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return &types.PersistenceError{Op: "save task execution", Cause: err}
	}
	return nil
}

func (r *taskExecutionRepository) ListForExecution(executionID string) ([]*types.TaskExecutionRecord, error) {
	var rows []taskExecutionRow
	err := r.db.Where("execution_id = ?", executionID).
		Order("started_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, &types.PersistenceError{Op: "list task executions", Cause: err}
	}
	out := make([]*types.TaskExecutionRecord, len(rows))
	for i := range rows {
		out[i] = fromTaskRow(&rows[i])
	}
	return out, nil
}

type versionRepository struct {
	db *gorm.DB
}

func (r *versionRepository) SaveVersion(v *types.WorkflowVersion) error {
	row := workflowVersionRow{
		ID:           v.ID,
		WorkflowName: v.WorkflowName,
		VersionHash:  v.VersionHash,
		Definition:   v.Definition,
		CreatedAt:    v.CreatedAt,
	}
	if err := r.db.Create(&row).Error; err != nil {
		return &types.PersistenceError{Op: "save version", Cause: err}
	}
	return nil
}

func (r *versionRepository) GetVersions(workflowName string) ([]*types.WorkflowVersion, error) {
	var rows []workflowVersionRow
	err := r.db.Where("workflow_name = ?", workflowName).
		Order("created_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, &types.PersistenceError{Op: "get versions", Cause: err}
	}
	out := make([]*types.WorkflowVersion, len(rows))
	for i, row := range rows {
		out[i] = &types.WorkflowVersion{
			ID:           row.ID,
			WorkflowName: row.WorkflowName,
			VersionHash:  row.VersionHash,
			Definition:   row.Definition,
			CreatedAt:    row.CreatedAt,
		}
	}
	return out, nil
}

func (r *versionRepository) GetLatestVersion(workflowName string) (*types.WorkflowVersion, error) {
	var row workflowVersionRow
	err := r.db.Where("workflow_name = ?", workflowName).
		Order("created_at desc").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &types.PersistenceError{Op: "get latest version", Cause: err}
	}
	return &types.WorkflowVersion{
		ID:           row.ID,
		WorkflowName: row.WorkflowName,
		VersionHash:  row.VersionHash,
		Definition:   row.Definition,
		CreatedAt:    row.CreatedAt,
	}, nil
}

type triggerStateRepository struct {
	db *gorm.DB
}

func (r *triggerStateRepository) GetLastFired(name string) (*time.Time, error) {
	var row triggerStateRow
	err := r.db.First(&row, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &types.PersistenceError{Op: "get trigger state", Cause: err}
	}
	at := row.LastFiredAt
	return &at, nil
}

func (r *triggerStateRepository) SaveLastFired(name string, at time.Time) error {
	row := triggerStateRow{Name: name, LastFiredAt: at}
	err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return &types.PersistenceError{Op: "save trigger state", Cause: err}
	}
	return nil
}

func toExecutionRow(record *types.ExecutionRecord) executionRow {
	return executionRow{
		ID:                record.ID,
		WorkflowName:      record.WorkflowName,
		Namespace:         record.Namespace,
		ParentExecutionID: record.ParentExecutionID,
		Status:            string(record.Status),
		InputJSON:         encodeMap(record.Input),
		OutputJSON:        encodeValue(record.Output),
		ErrorsJSON:        encodeStrings(record.Errors),
		StartedAt:         record.StartedAt,
		CompletedAt:       record.CompletedAt,
		DurationMs:        record.DurationMs,
		GraphBuildMicros:  record.GraphBuildMicros,
	}
}

func fromExecutionRow(row *executionRow) *types.ExecutionRecord {
	record := &types.ExecutionRecord{
		ID:                row.ID,
		WorkflowName:      row.WorkflowName,
		Namespace:         row.Namespace,
		ParentExecutionID: row.ParentExecutionID,
		Status:            types.ExecutionStatus(row.Status),
		Input:             decodeMap(row.InputJSON),
		Output:            decodeValue(row.OutputJSON),
		Errors:            decodeStrings(row.ErrorsJSON),
		StartedAt:         row.StartedAt,
		CompletedAt:       row.CompletedAt,
		DurationMs:        row.DurationMs,
		GraphBuildMicros:  row.GraphBuildMicros,
	}
	for i := range row.Tasks {
		record.Tasks = append(record.Tasks, fromTaskRow(&row.Tasks[i]))
	}
	return record
}

func toTaskRow(record *types.TaskExecutionRecord) taskExecutionRow {
	return taskExecutionRow{
		ID:          record.ID,
		ExecutionID: record.ExecutionID,
		TaskID:      record.TaskID,
		TaskRef:     record.TaskRef,
		Status:      string(record.Status),
		InputJSON:   encodeMap(record.Input),
		OutputJSON:  encodeValue(record.Output),
		ErrorsJSON:  encodeStrings(record.Errors),
		RetryCount:  record.RetryCount,
		StartedAt:   record.StartedAt,
		CompletedAt: record.CompletedAt,
		DurationMs:  record.DurationMs,
	}
}

func fromTaskRow(row *taskExecutionRow) *types.TaskExecutionRecord {
	return &types.TaskExecutionRecord{
		ID:          row.ID,
		ExecutionID: row.ExecutionID,
		TaskID:      row.TaskID,
		TaskRef:     row.TaskRef,
		Status:      types.TaskExecutionStatus(row.Status),
		Input:       decodeMap(row.InputJSON),
		Output:      decodeValue(row.OutputJSON),
		Errors:      decodeStrings(row.ErrorsJSON),
		RetryCount:  row.RetryCount,
		StartedAt:   row.StartedAt,
		CompletedAt: row.CompletedAt,
		DurationMs:  row.DurationMs,
	}
}
