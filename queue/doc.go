// Package queue provides unit delivery and admission control for
// background execution.
//
// Manager enforces per-queue rate limits, per-queue concurrency, and
// fan-out slot accounting. Scope configs tighten those limits for a
// single workflow sharing a queue with others.
//
// Memory is the in-process delivery queue: it satisfies
// workflow.Enqueuer, holds units until their RunAt is due, and hands
// them to a Handler from a pool of worker goroutines. The engine
// package wires it to workflow.Runner.ExecuteUnit.
package queue
