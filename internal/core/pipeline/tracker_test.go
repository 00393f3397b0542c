package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipedash/backend/internal/domain"
)

// checkInvariant asserts the counter invariant: completed + failed + pending
// plus the phases currently running always covers the full phase set.
func checkInvariant(t *testing.T, tr *Tracker) {
	t.Helper()

	running := 0
	for _, s := range tr.Phases() {
		if s == domain.StateRunning {
			running++
		}
	}
	sum := tr.Summary()
	assert.Equal(t, domain.PhaseCount,
		sum.CompletedCount+sum.FailedCount+sum.PendingCount+running,
		"counter invariant violated")
	assert.GreaterOrEqual(t, sum.PendingCount, 0)
	assert.GreaterOrEqual(t, sum.CompletedCount, 0)
	assert.GreaterOrEqual(t, sum.FailedCount, 0)
}

func TestTrackerFullDeploySequence(t *testing.T) {
	lines := []string{
		"Starting AWS DMS data ingestion deployment",
		"Starting infrastructure deployment...",
		"Creating RDS SQL Server instance...",
		"Infrastructure deployment completed!",
		"Starting database initialization...",
		"Database initialization completed!",
		"Starting DMS migration setup...",
		"DMS migration completed successfully!",
		"Starting validation and monitoring setup...",
		"Data validation successful!",
		"Process completed with code 0",
	}

	tr := NewTracker()
	for _, line := range lines {
		tr.Apply(line)
		checkInvariant(t, tr)
	}

	for phase, state := range tr.Phases() {
		assert.Equal(t, domain.StateCompleted, state, "phase %s", phase)
	}
	sum := tr.Summary()
	assert.Equal(t, 4, sum.CompletedCount)
	assert.Equal(t, 0, sum.FailedCount)
	assert.Equal(t, 0, sum.PendingCount)
}

func TestTrackerCountsDiffExactlyOnce(t *testing.T) {
	tr := NewTracker()
	before := tr.Summary()

	_, ok := tr.Apply("Infrastructure: starting provisioning")
	require.True(t, ok)
	assert.Equal(t, domain.StateRunning, tr.Phases()[domain.PhaseInfrastructure])
	// Running phases sit under no counter, so pending drops by one here.
	assert.Equal(t, before.PendingCount-1, tr.Summary().PendingCount)

	_, ok = tr.Apply("Infrastructure setup completed ✅")
	require.True(t, ok)
	after := tr.Summary()
	assert.Equal(t, before.CompletedCount+1, after.CompletedCount)
	assert.Equal(t, before.PendingCount-1, after.PendingCount)
	checkInvariant(t, tr)
}

// Feeding the same line twice must not change the summary a second time.
func TestTrackerIdempotent(t *testing.T) {
	tr := NewTracker()

	_, ok := tr.Apply("Starting infrastructure deployment...")
	require.True(t, ok)
	first := tr.Summary()

	_, ok = tr.Apply("Starting infrastructure deployment...")
	assert.False(t, ok)
	assert.Equal(t, first, tr.Summary())

	tr.Apply("Infrastructure deployment completed!")
	second := tr.Summary()
	_, ok = tr.Apply("Infrastructure deployment completed!")
	assert.False(t, ok)
	assert.Equal(t, second, tr.Summary())
	checkInvariant(t, tr)
}

func TestTrackerSkippedPhaseCountsCompleted(t *testing.T) {
	tr := NewTracker()

	_, ok := tr.Apply("Infrastructure already completed - skipping...")
	require.True(t, ok)

	sum := tr.Summary()
	assert.Equal(t, domain.StateCompleted, tr.Phases()[domain.PhaseInfrastructure])
	assert.Equal(t, 1, sum.CompletedCount)
	assert.Equal(t, 1, sum.SkippedCount)
	checkInvariant(t, tr)
}

// A stream that ends with only an exit-code line must leave every phase in
// whatever state it last held; no implicit failure propagation.
func TestTrackerExitCodeLineLeavesStates(t *testing.T) {
	tr := NewTracker()
	tr.Apply("Starting infrastructure deployment...")

	_, ok := tr.Apply("Process completed with code 1")
	assert.False(t, ok)

	phases := tr.Phases()
	assert.Equal(t, domain.StateRunning, phases[domain.PhaseInfrastructure])
	assert.Equal(t, domain.StateIdle, phases[domain.PhaseDatabaseInit])
	assert.Equal(t, domain.StateIdle, phases[domain.PhaseMigration])
	assert.Equal(t, domain.StateIdle, phases[domain.PhaseValidation])
}

func TestTrackerFailureMidRun(t *testing.T) {
	tr := NewTracker()
	tr.Apply("Starting infrastructure deployment...")
	tr.Apply("Infrastructure deployment completed!")
	tr.Apply("Starting database initialization...")
	tr.Apply("Database initialization failed: connection refused")

	phases := tr.Phases()
	assert.Equal(t, domain.StateCompleted, phases[domain.PhaseInfrastructure])
	assert.Equal(t, domain.StateFailed, phases[domain.PhaseDatabaseInit])
	assert.Equal(t, domain.StateIdle, phases[domain.PhaseMigration])

	sum := tr.Summary()
	assert.Equal(t, 1, sum.CompletedCount)
	assert.Equal(t, 1, sum.FailedCount)
	assert.Equal(t, 2, sum.PendingCount)
	checkInvariant(t, tr)
}

func TestTrackerFinishFreezesElapsed(t *testing.T) {
	tr := NewTracker()
	sum := tr.Finish()
	require.NotEmpty(t, sum.Elapsed)

	again := tr.Finish()
	assert.Equal(t, sum.Elapsed, again.Elapsed)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{60 * time.Second, "1m 0s"},
		{133 * time.Second, "2m 13s"},
		{-5 * time.Second, "0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}
