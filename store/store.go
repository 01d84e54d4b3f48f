// Package store defines the aggregate persistence interface. The
// workflow package declares run persistence and the semaphore package
// declares lease accounting; the composite Store composes both so a
// single backend serves runs and throttle leases alike. Backends:
// Memory, Redis, and Bun (Postgres).
package store

import (
	"github.com/conductkit/conduct/semaphore"
	"github.com/conductkit/conduct/workflow"
)

// Store is the aggregate persistence interface. A backend that
// implements it can be handed to engine.New directly and double as the
// throttle lease store.
type Store interface {
	workflow.Store
	semaphore.LeaseStore
}
