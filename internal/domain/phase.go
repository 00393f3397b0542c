package domain

// ==================== PHASES ====================

type Phase string

const (
	PhaseInfrastructure Phase = "infrastructure"
	PhaseDatabaseInit   Phase = "database_init"
	PhaseMigration      Phase = "migration"
	PhaseValidation     Phase = "validation"
)

// DeployOrder is the fixed execution order of the deployment pipeline.
// Teardown walks the same phases in reverse.
var DeployOrder = []Phase{
	PhaseInfrastructure,
	PhaseDatabaseInit,
	PhaseMigration,
	PhaseValidation,
}

// UnwindOrder returns the phases in teardown order.
func UnwindOrder() []Phase {
	out := make([]Phase, len(DeployOrder))
	for i, p := range DeployOrder {
		out[len(DeployOrder)-1-i] = p
	}
	return out
}

// PhaseCount is the fixed size of the phase set.
var PhaseCount = len(DeployOrder)

type PhaseState string

const (
	StateIdle      PhaseState = "idle"
	StateRunning   PhaseState = "running"
	StateCompleted PhaseState = "completed"
	StateFailed    PhaseState = "failed"
)

// Transition is one accepted phase state change derived from a log line.
type Transition struct {
	Phase   Phase      `json:"phase"`
	From    PhaseState `json:"from"`
	To      PhaseState `json:"to"`
	Skipped bool       `json:"skipped,omitempty"` // completed via a skip line, not real work
	Line    string     `json:"line,omitempty"`
}

// Summary holds the counters derived from phase transitions. Idle phases
// count under pending and running phases under no counter, so completed +
// failed + pending + running phases always equals PhaseCount. Skipped is
// informational only.
type Summary struct {
	CompletedCount int    `json:"completed_count"`
	FailedCount    int    `json:"failed_count"`
	SkippedCount   int    `json:"skipped_count"`
	PendingCount   int    `json:"pending_count"`
	Elapsed        string `json:"elapsed,omitempty"`
}
