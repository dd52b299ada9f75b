package metrics

// Metrics defines the counters the scoring service reports.
// Implementations must be safe for concurrent use.
type Metrics interface {
	IncPointsRecorded(side string)
	IncPointsUndone()
	IncTransitions(action string)
	IncFailures(operation, kind string)
	ObservePersistenceDuration(operation string, seconds float64)
	AddScoreRepairs(count int)
	IncReconcileRuns()
}

// Nop discards every observation.
type Nop struct{}

func (Nop) IncPointsRecorded(string)                   {}
func (Nop) IncPointsUndone()                           {}
func (Nop) IncTransitions(string)                      {}
func (Nop) IncFailures(string, string)                 {}
func (Nop) ObservePersistenceDuration(string, float64) {}
func (Nop) AddScoreRepairs(int)                        {}
func (Nop) IncReconcileRuns()                          {}
