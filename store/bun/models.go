package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/conductkit/conduct"
	"github.com/conductkit/conduct/id"
	"github.com/conductkit/conduct/workflow"
)

// ── Run model ─────────────────────────────────────────────────────

type runModel struct {
	bun.BaseModel `bun:"table:conduct_runs"`

	ID          string         `bun:"id,pk"`
	Workflow    string         `bun:"workflow,notnull"`
	State       string         `bun:"state,notnull,default:'pending'"`
	Arguments   map[string]any `bun:"arguments,type:jsonb"`
	Snapshot    []byte         `bun:"snapshot,type:bytea"`
	Error       string         `bun:"error"`
	DryRun      bool           `bun:"dry_run,notnull,default:false"`
	ResumeAt    *time.Time     `bun:"resume_at"`
	StartedAt   time.Time      `bun:"started_at,notnull,default:current_timestamp"`
	CompletedAt *time.Time     `bun:"completed_at"`
	CreatedAt   time.Time      `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `bun:"updated_at,notnull,default:current_timestamp"`
}

func toRunModel(r *workflow.Run) *runModel {
	return &runModel{
		ID:          r.ID.String(),
		Workflow:    r.Workflow,
		State:       string(r.State),
		Arguments:   r.Arguments,
		Snapshot:    r.Snapshot,
		Error:       r.Error,
		DryRun:      r.DryRun,
		ResumeAt:    r.ResumeAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func fromRunModel(m *runModel) (*workflow.Run, error) {
	parsedID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conduct/bun: parse run id %q: %w", m.ID, err)
	}

	return &workflow.Run{
		Entity: conduct.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Workflow:    m.Workflow,
		State:       workflow.RunState(m.State),
		Arguments:   m.Arguments,
		Snapshot:    m.Snapshot,
		Error:       m.Error,
		DryRun:      m.DryRun,
		ResumeAt:    m.ResumeAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}, nil
}

// ── Task output model ─────────────────────────────────────────────

type outputModel struct {
	bun.BaseModel `bun:"table:conduct_task_outputs"`

	RunID     string         `bun:"run_id,pk"`
	TaskName  string         `bun:"task_name,pk"`
	EachIndex int            `bun:"each_index,pk"`
	Data      map[string]any `bun:"data,type:jsonb"`
	CreatedAt time.Time      `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time      `bun:"updated_at,notnull,default:current_timestamp"`
}

func toOutputModel(runID id.RunID, o *workflow.TaskOutput) *outputModel {
	return &outputModel{
		RunID:     runID.String(),
		TaskName:  o.TaskName,
		EachIndex: o.Index(),
		Data:      o.Data,
	}
}

func fromOutputModel(m *outputModel) *workflow.TaskOutput {
	o := &workflow.TaskOutput{
		TaskName: m.TaskName,
		Data:     m.Data,
	}
	if m.EachIndex >= 0 {
		idx := m.EachIndex
		o.EachIndex = &idx
	}
	return o
}

// ── Task status model ─────────────────────────────────────────────

type statusModel struct {
	bun.BaseModel `bun:"table:conduct_task_statuses"`

	RunID     string    `bun:"run_id,pk"`
	TaskName  string    `bun:"task_name,pk"`
	EachIndex int       `bun:"each_index,pk"`
	JobID     string    `bun:"job_id,notnull"`
	Status    string    `bun:"status,notnull,default:'pending'"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toStatusModel(runID id.RunID, st *workflow.TaskStatus) *statusModel {
	return &statusModel{
		RunID:     runID.String(),
		TaskName:  st.TaskName,
		EachIndex: st.EachIndex,
		JobID:     st.JobID.String(),
		Status:    string(st.Status),
	}
}

func fromStatusModel(m *statusModel) (*workflow.TaskStatus, error) {
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("conduct/bun: parse job id %q: %w", m.JobID, err)
	}
	return &workflow.TaskStatus{
		TaskName:  m.TaskName,
		JobID:     jobID,
		EachIndex: m.EachIndex,
		Status:    workflow.JobStatus(m.Status),
	}, nil
}

// ── Continuation marker model ─────────────────────────────────────

type completedTaskModel struct {
	bun.BaseModel `bun:"table:conduct_completed_tasks"`

	RunID     string    `bun:"run_id,pk"`
	TaskName  string    `bun:"task_name,pk"`
	Position  int64     `bun:"position,autoincrement"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// ── Lease model ───────────────────────────────────────────────────

type leaseModel struct {
	bun.BaseModel `bun:"table:conduct_leases"`

	ID        string    `bun:"id,pk"`
	Key       string    `bun:"key,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
