package worker

// Environment variables every worker process, and every processor command it
// runs, receives.
const (
	EnvWorkerID = "RULERUNNER_WORKER_ID"
	EnvStore    = "RULERUNNER_STORE"
)
