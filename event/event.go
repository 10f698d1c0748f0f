// Package event is the append-only record of everything a pipeline
// run did. Components write events and observers subscribe to them;
// the engine never reads its own log to drive control flow.
package event

import "time"

type Kind string

const (
	KindPipelineStarted   Kind = "pipeline_started"
	KindStageStarted      Kind = "stage_started"
	KindStageSkipped      Kind = "stage_skipped"
	KindStepStarted       Kind = "step_started"
	KindStepRetried       Kind = "step_retried"
	KindStepTimedOut      Kind = "step_timed_out"
	KindStageCompleted    Kind = "stage_completed"
	KindPipelineCompleted Kind = "pipeline_completed"
	KindPostHookFired     Kind = "post_hook_fired"
)

// Event is immutable once appended. Seq is assigned by the store and
// strictly increases in append order, giving a total order for audit
// even though execution is concurrent.
type Event struct {
	Seq     uint64            `json:"seq"`
	Created time.Time         `json:"created"`
	RunID   string            `json:"run_id"`
	Kind    Kind              `json:"kind"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Store is an append-only event log. Append is the only mutation; no
// update or delete exists. Sequence numbers are never reused, even
// across restarts for persistent stores.
type Store interface {
	Append(ev Event) (uint64, error)
	// After returns up to limit events with Seq > cursor, in
	// sequence order.
	After(cursor uint64, limit int) ([]Event, error)
	Close() error
}
