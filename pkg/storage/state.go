package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dshills/decisionflow/pkg/domain/execution"
	"github.com/dshills/decisionflow/pkg/domain/types"
	errs "github.com/dshills/decisionflow/pkg/errors"
)

// ErrVersionConflict is returned by StateStore.Save when the stored version
// differs from the one the caller loaded.
var ErrVersionConflict = fmt.Errorf("%w: version conflict", errs.ErrConcurrentModification)

// StateStore persists execution state per (subject, flow).
type StateStore struct {
	kv KV
}

// NewStateStore creates a StateStore on kv.
func NewStateStore(kv KV) *StateStore {
	return &StateStore{kv: kv}
}

// Load returns the stored state and true, or nil and false if none exists.
func (s *StateStore) Load(ctx context.Context, key types.ExecutionKey) (*execution.State, bool, error) {
	data, err := s.kv.Get(ctx, execKey(key))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	state, err := decodeState(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode execution %s: %w", key, err)
	}
	return state, true, nil
}

// Save stores state if the stored version still equals state.Version (zero
// meaning "not stored yet"), then bumps state.Version. On conflict nothing
// is written and ErrVersionConflict is returned.
func (s *StateStore) Save(ctx context.Context, key types.ExecutionKey, state *execution.State) error {
	if state == nil {
		return fmt.Errorf("cannot save nil state")
	}
	expected := state.Version
	next := expected + 1

	err := s.kv.Update(ctx, execKey(key), func(current []byte, exists bool) ([]byte, error) {
		var stored int64
		if exists {
			prev, err := decodeState(current)
			if err != nil {
				return nil, fmt.Errorf("failed to decode execution %s: %w", key, err)
			}
			stored = prev.Version
		}
		if stored != expected {
			return nil, fmt.Errorf("%w: %s stored version %d, loaded %d", ErrVersionConflict, key, stored, expected)
		}
		cp := state.Clone()
		cp.Version = next
		return json.Marshal(cp)
	})
	if err != nil {
		return err
	}
	state.Version = next

	if err := setAdd(ctx, s.kv, flowSubjectsKey(key.FlowID), key.SubjectID); err != nil {
		return fmt.Errorf("failed to index execution %s: %w", key, err)
	}
	return nil
}

// Delete removes the stored state. Deleting a missing state is a no-op.
func (s *StateStore) Delete(ctx context.Context, key types.ExecutionKey) error {
	if err := s.kv.Delete(ctx, execKey(key)); err != nil {
		return err
	}
	return setRemove(ctx, s.kv, flowSubjectsKey(key.FlowID), key.SubjectID)
}

func decodeState(data []byte) (*execution.State, error) {
	var state execution.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
