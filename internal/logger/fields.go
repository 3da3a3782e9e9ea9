package logger

// Well-known field keys used across the pipeline. Using constants keeps
// log output greppable and avoids drift between packages.
const (
	KeyJobKind  = "job_kind"
	KeyStage    = "stage"
	KeySource   = "source"
	KeyRemote   = "remote"
	KeyKey      = "key"
	KeyEndpoint = "endpoint"
	KeyWorkerID = "worker_id"
	KeyError    = "error"
	KeyDuration = "duration_ms"
)
