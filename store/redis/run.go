package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/conductkit/conduct"
	"github.com/conductkit/conduct/id"
	"github.com/conductkit/conduct/workflow"
)

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	key := runKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conduct/redis: create run exists: %w", err)
	}
	if exists > 0 {
		return conduct.ErrInvalidState
	}

	m, err := runToMap(run)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, m)
	pipe.SAdd(ctx, runIDsKey, rID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conduct/redis: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	key := runKey(runID.String())
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: get run: %w", err)
	}
	if len(vals) == 0 {
		return nil, conduct.ErrRunNotFound
	}
	return mapToRun(vals)
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	key := runKey(run.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conduct/redis: update run exists: %w", err)
	}
	if exists == 0 {
		return conduct.ErrRunNotFound
	}

	m, err := runToMap(run)
	if err != nil {
		return err
	}
	m["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	// A cleared ResumeAt must not leave a stale field behind.
	pipe := s.client.TxPipeline()
	if run.ResumeAt == nil {
		pipe.HDel(ctx, key, "resume_at")
	}
	pipe.HSet(ctx, key, m)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conduct/redis: update run: %w", err)
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, newest
// first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	ids, err := s.client.SMembers(ctx, runIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: list runs smembers: %w", err)
	}

	var runs []*workflow.Run
	for _, rID := range ids {
		vals, getErr := s.client.HGetAll(ctx, runKey(rID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		r, convErr := mapToRun(vals)
		if convErr != nil {
			continue
		}
		if opts.State != "" && r.State != opts.State {
			continue
		}
		runs = append(runs, r)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(runs) {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// ── helpers ──

func runToMap(r *workflow.Run) (map[string]interface{}, error) {
	args, err := json.Marshal(r.Arguments)
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: marshal arguments: %w", err)
	}
	m := map[string]interface{}{
		"id":         r.ID.String(),
		"workflow":   r.Workflow,
		"state":      string(r.State),
		"arguments":  string(args),
		"snapshot":   string(r.Snapshot),
		"error":      r.Error,
		"dry_run":    strconv.FormatBool(r.DryRun),
		"started_at": r.StartedAt.Format(time.RFC3339Nano),
		"created_at": r.Entity.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": r.Entity.UpdatedAt.Format(time.RFC3339Nano),
	}
	if r.ResumeAt != nil {
		m["resume_at"] = r.ResumeAt.Format(time.RFC3339Nano)
	}
	if r.CompletedAt != nil {
		m["completed_at"] = r.CompletedAt.Format(time.RFC3339Nano)
	}
	return m, nil
}

func mapToRun(m map[string]string) (*workflow.Run, error) {
	rID, err := id.ParseRunID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conduct/redis: parse run id: %w", err)
	}

	startedAt, _ := time.Parse(time.RFC3339Nano, m["started_at"])
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])
	dryRun, _ := strconv.ParseBool(m["dry_run"])

	r := &workflow.Run{
		Entity: conduct.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:        rID,
		Workflow:  m["workflow"],
		State:     workflow.RunState(m["state"]),
		Snapshot:  []byte(m["snapshot"]),
		Error:     m["error"],
		DryRun:    dryRun,
		StartedAt: startedAt,
	}
	if len(r.Snapshot) == 0 {
		r.Snapshot = nil
	}

	if v := m["arguments"]; v != "" && v != "null" {
		if err := json.Unmarshal([]byte(v), &r.Arguments); err != nil {
			return nil, fmt.Errorf("conduct/redis: unmarshal arguments: %w", err)
		}
	}
	if v := m["resume_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v)
		r.ResumeAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v)
		r.CompletedAt = &t
	}
	return r, nil
}
