package log

// Field names shared across packages so log queries can rely on them.
const (
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	FieldConnID = "conn_id"
	FieldEvent  = "event"

	FieldRoom     = "room"
	FieldName     = "name"
	FieldSender   = "sender"
	FieldDegraded = "degraded"
	FieldDeleted  = "deleted"
	FieldDriver   = "driver"

	FieldService  = "service"
	FieldInstance = "instance_id"

	// Audit entries carry log_type=audit.
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
