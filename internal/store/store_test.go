// ABOUTME: Tests for the SQLite persistence layer against an in-memory database
// ABOUTME: Exercises upserts, preloaded task records, list ordering, and paging

package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/weftwork/weft/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Expected in-memory store, got %v", err)
	}
	return s
}

func execution(id, name string, status types.ExecutionStatus, startedAt time.Time) *types.ExecutionRecord {
	return &types.ExecutionRecord{
		ID:           id,
		WorkflowName: name,
		Namespace:    "default",
		Status:       status,
		Input:        map[string]interface{}{"userId": "u-1"},
		StartedAt:    startedAt,
	}
}

func TestExecutionRepository_SaveIsUpsert(t *testing.T) {
	s := openTestStore(t)
	repo := s.Executions()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := execution("e-1", "billing", types.ExecutionRunning, started)
	if err := repo.Save(record); err != nil {
		t.Fatalf("Expected initial save, got %v", err)
	}

	completed := started.Add(3 * time.Second)
	record.Status = types.ExecutionSucceeded
	record.Output = map[string]interface{}{"ok": true}
	record.CompletedAt = &completed
	record.DurationMs = 3000
	if err := repo.Save(record); err != nil {
		t.Fatalf("Expected upsert, got %v", err)
	}

	got, err := repo.Get("e-1")
	if err != nil {
		t.Fatalf("Expected get, got %v", err)
	}
	if got.Status != types.ExecutionSucceeded || got.DurationMs != 3000 {
		t.Errorf("Expected updated terminal record, got %+v", got)
	}
	if got.Input["userId"] != "u-1" {
		t.Errorf("Expected input snapshot round-trip, got %v", got.Input)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("Expected completedAt %v, got %v", completed, got.CompletedAt)
	}
}

func TestExecutionRepository_GetIncludesTaskRecords(t *testing.T) {
	s := openTestStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Executions().Save(execution("e-1", "billing", types.ExecutionRunning, started)); err != nil {
		t.Fatal(err)
	}

	tasks := s.TaskExecutions()
	for i, id := range []string{"t2", "t1"} {
		err := tasks.Save(&types.TaskExecutionRecord{
			ID:          fmt.Sprintf("te-%d", i),
			ExecutionID: "e-1",
			TaskID:      id,
			Status:      types.TaskSucceeded,
			// t2 saved first but started later; ordering must follow startedAt.
			StartedAt: started.Add(time.Duration(2-i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Executions().Get("e-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tasks) != 2 {
		t.Fatalf("Expected 2 task records, got %d", len(got.Tasks))
	}
	if got.Tasks[0].TaskID != "t1" || got.Tasks[1].TaskID != "t2" {
		t.Errorf("Expected startedAt ascending order, got %s then %s", got.Tasks[0].TaskID, got.Tasks[1].TaskID)
	}
}

func TestExecutionRepository_GetMissing(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Executions().Get("nope")
	if err != nil {
		t.Fatalf("Expected nil error for missing record, got %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil record, got %+v", got)
	}
}

func TestExecutionRepository_ListFilterAndPage(t *testing.T) {
	s := openTestStore(t)
	repo := s.Executions()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		name := "billing"
		status := types.ExecutionSucceeded
		if i%2 == 1 {
			name = "reports"
			status = types.ExecutionFailed
		}
		rec := execution(fmt.Sprintf("e-%d", i), name, status, base.Add(time.Duration(i)*time.Hour))
		if err := repo.Save(rec); err != nil {
			t.Fatal(err)
		}
	}

	all, err := repo.List(types.ExecutionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 || all[0].ID != "e-4" {
		t.Errorf("Expected 5 records newest first, got %d starting with %s", len(all), all[0].ID)
	}

	billing, err := repo.List(types.ExecutionFilter{WorkflowName: "billing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(billing) != 3 {
		t.Errorf("Expected 3 billing records, got %d", len(billing))
	}

	failed, err := repo.List(types.ExecutionFilter{Status: types.ExecutionFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 2 {
		t.Errorf("Expected 2 failed records, got %d", len(failed))
	}

	page, err := repo.List(types.ExecutionFilter{Skip: 1, Take: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "e-3" || page[1].ID != "e-2" {
		t.Errorf("Expected page [e-3 e-2], got %v", page)
	}
}

func TestTaskExecutionRepository_SaveIsUpsert(t *testing.T) {
	s := openTestStore(t)
	repo := s.TaskExecutions()

	record := &types.TaskExecutionRecord{
		ID:          "te-1",
		ExecutionID: "e-1",
		TaskID:      "t1",
		Status:      types.TaskSucceeded,
		StartedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := repo.Save(record); err != nil {
		t.Fatal(err)
	}
	record.Status = types.TaskFailed
	record.Errors = []string{"boom"}
	record.RetryCount = 2
	if err := repo.Save(record); err != nil {
		t.Fatal(err)
	}

	got, err := repo.ListForExecution("e-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Status != types.TaskFailed || got[0].RetryCount != 2 {
		t.Errorf("Expected upserted task record, got %+v", got)
	}
	if len(got[0].Errors) != 1 || got[0].Errors[0] != "boom" {
		t.Errorf("Expected errors round-trip, got %v", got[0].Errors)
	}
}

func TestVersionRepository(t *testing.T) {
	s := openTestStore(t)
	repo := s.Versions()

	latest, err := repo.GetLatestVersion("billing")
	if err != nil || latest != nil {
		t.Fatalf("Expected no latest version, got %v %v", latest, err)
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := repo.SaveVersion(&types.WorkflowVersion{
			ID:           fmt.Sprintf("v-%d", i),
			WorkflowName: "billing",
			VersionHash:  fmt.Sprintf("hash-%d", i),
			Definition:   "{}",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	versions, err := repo.GetVersions("billing")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 3 || versions[0].VersionHash != "hash-2" {
		t.Errorf("Expected newest first, got %v", versions)
	}

	latest, err = repo.GetLatestVersion("billing")
	if err != nil {
		t.Fatal(err)
	}
	if latest.VersionHash != "hash-2" {
		t.Errorf("Expected hash-2, got %s", latest.VersionHash)
	}
}

func TestTriggerStateRepository(t *testing.T) {
	s := openTestStore(t)
	repo := s.TriggerStates()

	got, err := repo.GetLastFired("daily-report")
	if err != nil || got != nil {
		t.Fatalf("Expected never-fired trigger, got %v %v", got, err)
	}

	first := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := repo.SaveLastFired("daily-report", first); err != nil {
		t.Fatal(err)
	}
	second := first.Add(24 * time.Hour)
	if err := repo.SaveLastFired("daily-report", second); err != nil {
		t.Fatal(err)
	}

	got, err = repo.GetLastFired("daily-report")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.Equal(second) {
		t.Errorf("Expected %v, got %v", second, got)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	s := openTestStore(t)
	repo := s.Executions()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.Save(execution("e-run", "billing", types.ExecutionRunning, started)); err != nil {
		t.Fatal(err)
	}
	done := execution("e-done", "billing", types.ExecutionSucceeded, started)
	completed := started.Add(time.Minute)
	done.CompletedAt = &completed
	if err := repo.Save(done); err != nil {
		t.Fatal(err)
	}

	recovered, err := s.RecoverInterrupted()
	if err != nil {
		t.Fatalf("Expected recovery, got %v", err)
	}
	if recovered != 1 {
		t.Errorf("Expected 1 recovered execution, got %d", recovered)
	}

	got, err := repo.Get("e-run")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.ExecutionFailed || got.CompletedAt == nil {
		t.Errorf("Expected interrupted execution failed, got %+v", got)
	}
	if len(got.Errors) != 1 || got.Errors[0] != "interrupted by engine restart" {
		t.Errorf("Expected restart error recorded, got %v", got.Errors)
	}

	untouched, _ := repo.Get("e-done")
	if untouched.Status != types.ExecutionSucceeded {
		t.Errorf("Expected terminal record untouched, got %+v", untouched)
	}
}
