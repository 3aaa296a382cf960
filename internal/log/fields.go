package log

// Field names shared across components so log lines stay queryable
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldOperation  = "operation"
	FieldAccountID  = "account_id"
	FieldDriftCents = "drift_cents"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentSweeper    = "sweeper"
	ComponentReconciler = "reconciler"
	ComponentAlerts     = "alerts"
	ComponentCache      = "cache"
)

// Operations defines standard operation names
const (
	OpSweep     = "sweep"
	OpReconcile = "reconcile"
)
