package redis

import "fmt"

// Redis key naming conventions for conduct data.
// All keys are prefixed with "conduct:" to avoid collisions.

const keyPrefix = "conduct:"

// ── Run keys ──

// runKey returns the key for a run entity: conduct:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runIDsKey is the Set tracking all run IDs for enumeration.
const runIDsKey = keyPrefix + "run_ids"

// ── Progress keys ──

// outputsKey returns the Hash of task outputs: conduct:outputs:{runID}
func outputsKey(runID string) string { return keyPrefix + "outputs:" + runID }

// statusesKey returns the Hash of unit statuses: conduct:statuses:{runID}
func statusesKey(runID string) string { return keyPrefix + "statuses:" + runID }

// completedKey returns the List of continuation markers, in completion
// order: conduct:completed:{runID}
func completedKey(runID string) string { return keyPrefix + "completed:" + runID }

// progressField builds the Hash field for a (task, index) pair.
func progressField(task string, index int) string {
	return fmt.Sprintf("%s#%d", task, index)
}

// ── Lease keys ──

// leaseKey returns the Sorted Set of held throttle leases for a key,
// scored by expiry: conduct:lease:{key}
func leaseKey(key string) string { return keyPrefix + "lease:" + key }
