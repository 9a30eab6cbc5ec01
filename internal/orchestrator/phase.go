// Package orchestrator implements phase-based module scheduling for one scan.
// It tracks a dependency graph of reconnaissance modules, exposes which
// modules are runnable, and records per-phase completion statistics. The
// orchestrator spawns nothing itself; an external executor polls its
// scheduling queries and reports module outcomes back into it.
package orchestrator

// Phase represents one ordered stage of a scan's module scheduling.
type Phase string

const (
	// PhaseInit is the setup stage before any module runs.
	PhaseInit Phase = "INIT"

	// PhaseDiscovery covers passive target discovery modules.
	PhaseDiscovery Phase = "DISCOVERY"

	// PhaseEnumeration covers active enumeration of discovered assets.
	PhaseEnumeration Phase = "ENUMERATION"

	// PhaseCorrelation covers cross-module result correlation.
	PhaseCorrelation Phase = "CORRELATION"

	// PhaseReporting covers report and summary generation.
	PhaseReporting Phase = "REPORTING"

	// PhaseComplete is the terminal phase of a successful scan.
	PhaseComplete Phase = "COMPLETE"

	// PhaseFailed is the terminal phase of an aborted scan. It sits outside
	// the ordered sequence and is reachable from any non-terminal phase.
	PhaseFailed Phase = "FAILED"
)

// String returns the string representation of the phase.
func (p Phase) String() string { return string(p) }

// IsTerminal reports whether the phase ends the scan's scheduling.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// DefaultPhaseSequence returns the standard ordered phase progression. The
// sequence always starts at PhaseInit and ends at PhaseComplete; advancing is
// strictly monotonic and never regresses.
func DefaultPhaseSequence() []Phase {
	return []Phase{
		PhaseInit,
		PhaseDiscovery,
		PhaseEnumeration,
		PhaseCorrelation,
		PhaseReporting,
		PhaseComplete,
	}
}

// ParsePhase converts a string to a Phase. The second return value is false
// when the string names no known phase.
func ParsePhase(s string) (Phase, bool) {
	switch Phase(s) {
	case PhaseInit, PhaseDiscovery, PhaseEnumeration, PhaseCorrelation,
		PhaseReporting, PhaseComplete, PhaseFailed:
		return Phase(s), true
	default:
		return "", false
	}
}
