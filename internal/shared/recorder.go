package shared

// OperationRecorder counts composite operations by outcome.
type OperationRecorder interface {
	RecordOperation(operation string, err error)
}

// NopRecorder discards observations.
type NopRecorder struct{}

// RecordOperation implements OperationRecorder.
func (NopRecorder) RecordOperation(string, error) {}
