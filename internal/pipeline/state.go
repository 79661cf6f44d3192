package pipeline

// State is a run's position in the pipeline state machine.
type State string

// Run states.
const (
	StatePending         State = "pending"
	StateLoading         State = "loading"
	StateTransforming    State = "transforming"
	StateAggregating     State = "aggregating"
	StateCheckingQuality State = "checking_quality"
	StateSucceeded       State = "succeeded"
	StateFailed          State = "failed"
)

// Stage names the unit of work a non-terminal state performs.
type Stage string

// Stages in execution order.
const (
	StageLoad      Stage = "load"
	StageTransform Stage = "transform"
	StageAggregate Stage = "aggregate"
	StageQuality   Stage = "quality"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageLoad, StageTransform, StageAggregate, StageQuality}

var stageStates = map[Stage]State{
	StageLoad:      StateLoading,
	StageTransform: StateTransforming,
	StageAggregate: StateAggregating,
	StageQuality:   StateCheckingQuality,
}

// State returns the state a run is in while the stage executes.
func (s Stage) State() State { return stageStates[s] }

var transitions = map[State]State{
	StatePending:         StateLoading,
	StateLoading:         StateTransforming,
	StateTransforming:    StateAggregating,
	StateAggregating:     StateCheckingQuality,
	StateCheckingQuality: StateSucceeded,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanTransition reports whether from → to is a legal edge. Failed is
// reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return transitions[from] == to
}
