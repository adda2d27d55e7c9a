package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldWorkerID identifies the worker process that emitted the line.
	FieldWorkerID = "worker_id"
	// FieldItemID is the standardized key for work item identifiers.
	FieldItemID = "item_id"
	// FieldPayload carries the opaque item payload.
	FieldPayload = "payload"
	// FieldStore is the queue location.
	FieldStore = "store"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests a next step to the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)
