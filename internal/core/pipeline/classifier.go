package pipeline

import (
	"strings"

	"github.com/pipedash/backend/internal/domain"
)

// The runner scripts report progress as free text, so phase status is
// derived by literal substring matching: first a topic keyword picks the
// phase a line concerns, then an ordered set of trigger phrases picks the
// target state. Failure indicators are checked before success indicators
// so a line carrying both never lands a phase on completed.

type topicRule struct {
	phase    domain.Phase
	keywords []string
}

// Topic keywords are case-sensitive; both capitalizations are listed where
// the runner emits them ("Starting infrastructure deployment..." vs
// "Infrastructure deployment completed!").
var topicRules = []topicRule{
	{domain.PhaseInfrastructure, []string{"Infrastructure", "infrastructure"}},
	{domain.PhaseDatabaseInit, []string{"Database initialization", "database initialization"}},
	{domain.PhaseMigration, []string{"DMS migration", "data migration"}},
	{domain.PhaseValidation, []string{"Validation", "validation"}},
}

var (
	failurePhrases = []string{"FAILED", "failed", "ERROR", "❌"}
	skipPhrases    = []string{"skipping", "skipped", "⏭"}
	successPhrases = []string{"completed", "SUCCESS", "successful", "✅"}
	startPhrases   = []string{"Starting", "starting", "Creating", "Setting up", "RUNNING"}
)

// Classify maps one log line to at most one phase state transition.
// A line matching no topic keyword yields no transition; a computed target
// equal to the phase's current state is suppressed so re-feeding the same
// line never double-counts.
func Classify(line string, current map[domain.Phase]domain.PhaseState) (domain.Transition, bool) {
	phase, ok := matchTopic(line)
	if !ok {
		return domain.Transition{}, false
	}

	target, skipped, ok := matchTrigger(line)
	if !ok {
		return domain.Transition{}, false
	}

	from := current[phase]
	if from == target {
		return domain.Transition{}, false
	}

	return domain.Transition{
		Phase:   phase,
		From:    from,
		To:      target,
		Skipped: skipped,
		Line:    line,
	}, true
}

func matchTopic(line string) (domain.Phase, bool) {
	for _, rule := range topicRules {
		for _, kw := range rule.keywords {
			if strings.Contains(line, kw) {
				return rule.phase, true
			}
		}
	}
	return "", false
}

func matchTrigger(line string) (state domain.PhaseState, skipped bool, ok bool) {
	if containsAny(line, failurePhrases) {
		return domain.StateFailed, false, true
	}
	if containsAny(line, skipPhrases) {
		return domain.StateCompleted, true, true
	}
	if containsAny(line, successPhrases) {
		return domain.StateCompleted, false, true
	}
	if containsAny(line, startPhrases) {
		return domain.StateRunning, false, true
	}
	return "", false, false
}

func containsAny(line string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}
