package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/decisionflow/pkg/domain/types"
	"github.com/dshills/decisionflow/pkg/flow"
	"github.com/dshills/decisionflow/pkg/log"
)

// FlowStore loads and saves flow definitions.
type FlowStore struct {
	kv     KV
	logger *zap.Logger
}

// NewFlowStore creates a FlowStore on kv.
func NewFlowStore(kv KV, logger *zap.Logger) *FlowStore {
	return &FlowStore{kv: kv, logger: log.OrNop(logger).Named("flows")}
}

// GetFlow returns the flow with the given ID or flow.ErrFlowNotFound.
func (s *FlowStore) GetFlow(ctx context.Context, flowID string) (*flow.Flow, error) {
	data, err := s.kv.Get(ctx, flowKey(flowID))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", flow.ErrFlowNotFound, flowID)
	}
	if err != nil {
		return nil, err
	}
	var f flow.Flow
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode flow %s: %w", flowID, err)
	}
	return &f, nil
}

// SaveFlow stores f after checking its structure. Graph-level problems
// such as unreachable nodes are left to flow.Validate; the engine
// degrades to a dead end on them at run time.
func (s *FlowStore) SaveFlow(ctx context.Context, f *flow.Flow) error {
	if f == nil {
		return fmt.Errorf("cannot save nil flow")
	}
	if err := f.ValidateStructure(); err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode flow %s: %w", f.ID, err)
	}
	if err := s.kv.Put(ctx, flowKey(f.ID), data); err != nil {
		return err
	}
	if err := setAdd(ctx, s.kv, flowIndexKey, f.ID); err != nil {
		return fmt.Errorf("failed to index flow %s: %w", f.ID, err)
	}
	s.logger.Debug("flow saved", zap.String("flow", f.ID), zap.Int("nodes", len(f.Nodes)))
	return nil
}

// DeleteFlow removes a flow and every execution state bound to it. Audit
// logs are kept.
func (s *FlowStore) DeleteFlow(ctx context.Context, flowID string) error {
	if _, err := s.kv.Get(ctx, flowKey(flowID)); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", flow.ErrFlowNotFound, flowID)
		}
		return err
	}

	subjects, err := setMembers(ctx, s.kv, flowSubjectsKey(flowID))
	if err != nil {
		return err
	}
	for _, subjectID := range subjects {
		key := execKey(types.ExecutionKey{SubjectID: subjectID, FlowID: flowID})
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete execution %s: %w", key, err)
		}
	}
	if err := s.kv.Delete(ctx, flowSubjectsKey(flowID)); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, flowKey(flowID)); err != nil {
		return err
	}
	if err := setRemove(ctx, s.kv, flowIndexKey, flowID); err != nil {
		return fmt.Errorf("failed to unindex flow %s: %w", flowID, err)
	}
	s.logger.Info("flow deleted", zap.String("flow", flowID), zap.Int("executions", len(subjects)))
	return nil
}

// ListFlows returns every stored flow ordered by ID. Index entries whose
// flow has vanished are skipped.
func (s *FlowStore) ListFlows(ctx context.Context) ([]*flow.Flow, error) {
	ids, err := setMembers(ctx, s.kv, flowIndexKey)
	if err != nil {
		return nil, err
	}
	flows := make([]*flow.Flow, 0, len(ids))
	for _, id := range ids {
		f, err := s.GetFlow(ctx, id)
		if errors.Is(err, flow.ErrFlowNotFound) {
			s.logger.Warn("flow index points at missing flow", zap.String("flow", id))
			continue
		}
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, nil
}

// Subjects returns the subjects with stored execution state for flowID.
func (s *FlowStore) Subjects(ctx context.Context, flowID string) ([]string, error) {
	return setMembers(ctx, s.kv, flowSubjectsKey(flowID))
}
