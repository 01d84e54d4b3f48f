package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/conductkit/conduct/id"
	"github.com/conductkit/conduct/workflow"
)

// ── Outputs ──

// SaveOutput upserts one task output at its (task, index) key.
func (s *Store) SaveOutput(ctx context.Context, runID id.RunID, out *workflow.TaskOutput) error {
	m := toOutputModel(runID, out)
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (run_id, task_name, each_index) DO UPDATE").
		Set("data = EXCLUDED.data").
		Set("updated_at = ?", time.Now().UTC()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conduct/bun: save output: %w", err)
	}
	return nil
}

// ListOutputs returns every output recorded for the run.
func (s *Store) ListOutputs(ctx context.Context, runID id.RunID) ([]*workflow.TaskOutput, error) {
	var models []outputModel
	err := s.db.NewSelect().Model(&models).
		Where("run_id = ?", runID.String()).
		Order("task_name ASC", "each_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("conduct/bun: list outputs: %w", err)
	}

	outs := make([]*workflow.TaskOutput, 0, len(models))
	for i := range models {
		outs = append(outs, fromOutputModel(&models[i]))
	}
	return outs, nil
}

// ── Statuses ──

// UpsertStatus records the state of one dispatched unit, replacing any
// earlier record for the same (task, index).
func (s *Store) UpsertStatus(ctx context.Context, runID id.RunID, st *workflow.TaskStatus) error {
	m := toStatusModel(runID, st)
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (run_id, task_name, each_index) DO UPDATE").
		Set("job_id = EXCLUDED.job_id").
		Set("status = EXCLUDED.status").
		Set("updated_at = ?", time.Now().UTC()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conduct/bun: upsert status: %w", err)
	}
	return nil
}

// ListStatuses returns every dispatched-unit status for the run.
func (s *Store) ListStatuses(ctx context.Context, runID id.RunID) ([]*workflow.TaskStatus, error) {
	var models []statusModel
	err := s.db.NewSelect().Model(&models).
		Where("run_id = ?", runID.String()).
		Order("task_name ASC", "each_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("conduct/bun: list statuses: %w", err)
	}

	sts := make([]*workflow.TaskStatus, 0, len(models))
	for i := range models {
		st, convErr := fromStatusModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		sts = append(sts, st)
	}
	return sts, nil
}

// ── Continuation markers ──

// MarkTaskComplete records the run's continuation marker for one task.
// Idempotent per (run, task); markers keep completion order via an
// autoincrementing position.
func (s *Store) MarkTaskComplete(ctx context.Context, runID id.RunID, taskName string) error {
	m := &completedTaskModel{
		RunID:    runID.String(),
		TaskName: taskName,
	}
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (run_id, task_name) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conduct/bun: mark task complete: %w", err)
	}
	return nil
}

// CompletedTasks returns the names of tasks already marked complete, in
// completion order.
func (s *Store) CompletedTasks(ctx context.Context, runID id.RunID) ([]string, error) {
	var models []completedTaskModel
	err := s.db.NewSelect().Model(&models).
		Where("run_id = ?", runID.String()).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("conduct/bun: completed tasks: %w", err)
	}

	names := make([]string, 0, len(models))
	for i := range models {
		names = append(names, models[i].TaskName)
	}
	return names, nil
}
