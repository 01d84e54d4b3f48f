package workflow

import (
	"fmt"

	"github.com/conductkit/conduct/codec"
	"github.com/conductkit/conduct/id"
)

// Snapshot is the persisted representation of an execution context: a
// plain nested map-of-primitives shape with the cursor, accumulated
// outputs, and dispatched-unit statuses.
//
// For a sub-unit context (a current task plus a non-nil parent job ID)
// the snapshot includes only that task's own outputs and omits statuses
// entirely — a size optimization for fan-out sub-units, not a general
// rule.
type Snapshot struct {
	TaskContext     *SnapshotCursor  `json:"taskContext,omitempty" msgpack:"taskContext,omitempty"`
	TaskOutputs     []SnapshotOutput `json:"taskOutputs" msgpack:"taskOutputs"`
	TaskJobStatuses []SnapshotStatus `json:"taskJobStatuses,omitempty" msgpack:"taskJobStatuses,omitempty"`
}

// SnapshotCursor is the persisted iteration cursor.
type SnapshotCursor struct {
	TaskName    string `json:"taskName" msgpack:"taskName"`
	ParentJobID string `json:"parentJobId,omitempty" msgpack:"parentJobId,omitempty"`
	Index       int    `json:"index" msgpack:"index"`
	Value       any    `json:"value,omitempty" msgpack:"value,omitempty"`
	RetryCount  int    `json:"retryCount" msgpack:"retryCount"`
}

// SnapshotOutput is one persisted output record.
type SnapshotOutput struct {
	TaskName  string         `json:"taskName" msgpack:"taskName"`
	EachIndex *int           `json:"eachIndex,omitempty" msgpack:"eachIndex,omitempty"`
	Data      map[string]any `json:"data" msgpack:"data"`
}

// SnapshotStatus is one persisted dispatched-unit status.
type SnapshotStatus struct {
	TaskName  string `json:"taskName" msgpack:"taskName"`
	JobID     string `json:"jobId" msgpack:"jobId"`
	EachIndex int    `json:"eachIndex" msgpack:"eachIndex"`
	Status    string `json:"status" msgpack:"status"`
}

// Snapshot captures the context's persisted state. Sub-unit contexts are
// trimmed per the Snapshot contract.
func (c *Context) Snapshot() *Snapshot {
	snap := &Snapshot{}

	if c.cursor.TaskName != "" {
		cur := &SnapshotCursor{
			TaskName:   c.cursor.TaskName,
			Index:      c.cursor.Index,
			Value:      c.cursor.Value,
			RetryCount: c.cursor.RetryCount,
		}
		if !c.cursor.ParentJobID.IsNil() {
			cur.ParentJobID = c.cursor.ParentJobID.String()
		}
		snap.TaskContext = cur
	}

	sub := c.cursor.SubUnit()

	for _, o := range c.outputs.List() {
		if sub && o.TaskName != c.cursor.TaskName {
			continue
		}
		snap.TaskOutputs = append(snap.TaskOutputs, SnapshotOutput{
			TaskName:  o.TaskName,
			EachIndex: o.EachIndex,
			Data:      o.Data,
		})
	}

	if !sub {
		for _, st := range c.statuses.List() {
			snap.TaskJobStatuses = append(snap.TaskJobStatuses, SnapshotStatus{
				TaskName:  st.TaskName,
				JobID:     st.JobID.String(),
				EachIndex: st.EachIndex,
				Status:    string(st.Status),
			})
		}
	}

	return snap
}

// restore loads a snapshot into the context. The restored context
// reproduces the same accumulated outputs and job statuses as the one
// serialized.
func (c *Context) restore(snap *Snapshot) error {
	if snap.TaskContext != nil {
		c.cursor.TaskName = snap.TaskContext.TaskName
		c.cursor.Index = snap.TaskContext.Index
		c.cursor.Value = snap.TaskContext.Value
		c.cursor.RetryCount = snap.TaskContext.RetryCount
		if snap.TaskContext.ParentJobID != "" {
			parent, err := id.ParseJobID(snap.TaskContext.ParentJobID)
			if err != nil {
				return fmt.Errorf("conduct: restore snapshot: %w", err)
			}
			c.cursor.ParentJobID = parent
		}
	}

	for _, o := range snap.TaskOutputs {
		c.outputs.Put(&TaskOutput{
			TaskName:  o.TaskName,
			EachIndex: o.EachIndex,
			Data:      o.Data,
		})
	}

	for _, st := range snap.TaskJobStatuses {
		jobID, err := id.ParseJobID(st.JobID)
		if err != nil {
			return fmt.Errorf("conduct: restore snapshot: %w", err)
		}
		c.statuses.Upsert(&TaskStatus{
			TaskName:  st.TaskName,
			JobID:     jobID,
			EachIndex: st.EachIndex,
			Status:    JobStatus(st.Status),
		})
	}

	return nil
}

// Marshal encodes the snapshot with the given codec.
func (s *Snapshot) Marshal(cd codec.Codec) ([]byte, error) {
	data, err := cd.Encode(s)
	if err != nil {
		return nil, fmt.Errorf("conduct: encode snapshot (%s): %w", cd.Name(), err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a snapshot with the given codec.
func UnmarshalSnapshot(data []byte, cd codec.Codec) (*Snapshot, error) {
	var s Snapshot
	if err := cd.Decode(data, &s); err != nil {
		return nil, fmt.Errorf("conduct: decode snapshot (%s): %w", cd.Name(), err)
	}
	return &s, nil
}
