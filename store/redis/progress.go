package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conductkit/conduct/id"
	"github.com/conductkit/conduct/workflow"
)

// ── Outputs ──

// SaveOutput upserts one task output at its (task, index) key.
func (s *Store) SaveOutput(ctx context.Context, runID id.RunID, out *workflow.TaskOutput) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("conduct/redis: marshal output: %w", err)
	}
	field := progressField(out.TaskName, out.Index())
	if err := s.client.HSet(ctx, outputsKey(runID.String()), field, string(data)).Err(); err != nil {
		return fmt.Errorf("conduct/redis: save output: %w", err)
	}
	return nil
}

// ListOutputs returns every output recorded for the run.
func (s *Store) ListOutputs(ctx context.Context, runID id.RunID) ([]*workflow.TaskOutput, error) {
	vals, err := s.client.HGetAll(ctx, outputsKey(runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: list outputs: %w", err)
	}
	outs := make([]*workflow.TaskOutput, 0, len(vals))
	for _, v := range vals {
		var out workflow.TaskOutput
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("conduct/redis: unmarshal output: %w", err)
		}
		outs = append(outs, &out)
	}
	return outs, nil
}

// ── Statuses ──

// UpsertStatus records the state of one dispatched unit, replacing any
// earlier record for the same (task, index).
func (s *Store) UpsertStatus(ctx context.Context, runID id.RunID, st *workflow.TaskStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("conduct/redis: marshal status: %w", err)
	}
	field := progressField(st.TaskName, st.EachIndex)
	if err := s.client.HSet(ctx, statusesKey(runID.String()), field, string(data)).Err(); err != nil {
		return fmt.Errorf("conduct/redis: upsert status: %w", err)
	}
	return nil
}

// ListStatuses returns every dispatched-unit status for the run.
func (s *Store) ListStatuses(ctx context.Context, runID id.RunID) ([]*workflow.TaskStatus, error) {
	vals, err := s.client.HGetAll(ctx, statusesKey(runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: list statuses: %w", err)
	}
	sts := make([]*workflow.TaskStatus, 0, len(vals))
	for _, v := range vals {
		var st workflow.TaskStatus
		if err := json.Unmarshal([]byte(v), &st); err != nil {
			return nil, fmt.Errorf("conduct/redis: unmarshal status: %w", err)
		}
		sts = append(sts, &st)
	}
	return sts, nil
}

// ── Continuation markers ──

// MarkTaskComplete appends the run's continuation marker for one task.
// Markers keep completion order and are idempotent per task.
func (s *Store) MarkTaskComplete(ctx context.Context, runID id.RunID, taskName string) error {
	key := completedKey(runID.String())
	_, err := s.client.LPos(ctx, key, taskName, goredis.LPosArgs{}).Result()
	if err == nil {
		return nil
	}
	if err != goredis.Nil {
		return fmt.Errorf("conduct/redis: mark task complete lpos: %w", err)
	}
	if err := s.client.RPush(ctx, key, taskName).Err(); err != nil {
		return fmt.Errorf("conduct/redis: mark task complete: %w", err)
	}
	return nil
}

// CompletedTasks returns the names of tasks already marked complete, in
// completion order.
func (s *Store) CompletedTasks(ctx context.Context, runID id.RunID) ([]string, error) {
	names, err := s.client.LRange(ctx, completedKey(runID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: completed tasks: %w", err)
	}
	return names, nil
}
