package execution

import (
	"time"

	"github.com/dshills/decisionflow/pkg/domain/types"
	"github.com/dshills/decisionflow/pkg/flow"
	"github.com/dshills/decisionflow/pkg/value"
)

// ActionResult is the normalized outcome of one effect.
type ActionResult struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(data interface{}) ActionResult {
	return ActionResult{Success: true, Data: data}
}

// Failed builds a failed result.
func Failed(err error) ActionResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ActionResult{Success: false, Error: msg}
}

// AuditEntry records one executed effect. Entries are never modified once
// appended.
type AuditEntry struct {
	ID              types.AuditEntryID     `json:"id"`
	SubjectID       string                 `json:"subject_id"`
	FlowID          string                 `json:"flow_id"`
	NodeID          string                 `json:"node_id"`
	Effect          flow.EffectNode        `json:"effect"`
	Result          ActionResult           `json:"result"`
	Timestamp       time.Time              `json:"timestamp"`
	AnswersSnapshot map[string]value.Value `json:"answers_snapshot"`
}

// NewAuditEntry builds an entry for an executed effect. The answers are
// copied.
func NewAuditEntry(key types.ExecutionKey, effect *flow.EffectNode, result ActionResult, answers map[string]value.Value, at time.Time) *AuditEntry {
	snapshot := make(map[string]value.Value, len(answers))
	for k, v := range answers {
		snapshot[k] = v
	}
	return &AuditEntry{
		ID:              types.NewAuditEntryID(),
		SubjectID:       key.SubjectID,
		FlowID:          key.FlowID,
		NodeID:          effect.ID,
		Effect:          effect.Snapshot(),
		Result:          result,
		Timestamp:       at.UTC(),
		AnswersSnapshot: snapshot,
	}
}

// NewestFirst returns entries in reverse insertion order, for display.
func NewestFirst(entries []*AuditEntry) []*AuditEntry {
	out := make([]*AuditEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
