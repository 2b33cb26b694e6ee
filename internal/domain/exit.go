package domain

// ExitState tracks which exit conditions have already fired during the
// current position cycle. Each take-profit target fires at most once; the
// stop is terminal for the cycle. Reset only when position size returns to 0.
type ExitState struct {
	FiredTargets []bool `json:"fired_targets"`
	StopFired    bool   `json:"stop_fired"`
}

// NewExitState returns a fresh state for a cycle with the given number of
// take-profit targets.
func NewExitState(targets int) ExitState {
	return ExitState{FiredTargets: make([]bool, targets)}
}

// TargetFired reports whether the target with the given index already fired.
func (e *ExitState) TargetFired(i int) bool {
	return i >= 0 && i < len(e.FiredTargets) && e.FiredTargets[i]
}

// MarkTargetFired marks a take-profit target as fired.
func (e *ExitState) MarkTargetFired(i int) {
	if i >= 0 && i < len(e.FiredTargets) {
		e.FiredTargets[i] = true
	}
}
