package storage

import "github.com/dshills/decisionflow/pkg/domain/types"

// Logical key layout shared by every backend.
const (
	flowIndexKey = "flows:index"
)

func flowKey(flowID string) string {
	return "flow:" + flowID
}

func flowSubjectsKey(flowID string) string {
	return "flows:" + flowID + ":subjects"
}

func execKey(key types.ExecutionKey) string {
	return "exec:" + key.SubjectID + ":" + key.FlowID
}

func auditKey(key types.ExecutionKey) string {
	return "audit:" + key.SubjectID + ":" + key.FlowID
}
