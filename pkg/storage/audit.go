package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/decisionflow/pkg/domain/execution"
	"github.com/dshills/decisionflow/pkg/domain/types"
)

// AuditLog is the append-only record of executed effects per
// (subject, flow).
type AuditLog struct {
	kv KV
}

// NewAuditLog creates an AuditLog on kv.
func NewAuditLog(kv KV) *AuditLog {
	return &AuditLog{kv: kv}
}

// Append adds entry to the end of the log for key.
func (a *AuditLog) Append(ctx context.Context, key types.ExecutionKey, entry *execution.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("cannot append nil audit entry")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	return a.kv.Append(ctx, auditKey(key), data)
}

// List returns the log for key in insertion order.
func (a *AuditLog) List(ctx context.Context, key types.ExecutionKey) ([]*execution.AuditEntry, error) {
	items, err := a.kv.Range(ctx, auditKey(key))
	if err != nil {
		return nil, err
	}
	entries := make([]*execution.AuditEntry, 0, len(items))
	for i, item := range items {
		var entry execution.AuditEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode audit entry %d of %s: %w", i, key, err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
