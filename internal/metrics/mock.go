package metrics

import "sync"

// Mock is a mock implementation of the Metrics interface for testing.
// It is safe for concurrent use.
type Mock struct {
	mu             sync.Mutex
	pointsRecorded map[string]int
	pointsUndone   int
	transitions    map[string]int
	failures       map[string]int
	durations      map[string][]float64
	scoreRepairs   int
	reconcileRuns  int
}

// NewMock creates a new mock instance.
func NewMock() *Mock {
	return &Mock{
		pointsRecorded: make(map[string]int),
		transitions:    make(map[string]int),
		failures:       make(map[string]int),
		durations:      make(map[string][]float64),
	}
}

func (m *Mock) IncPointsRecorded(side string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pointsRecorded[side]++
}

func (m *Mock) IncPointsUndone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pointsUndone++
}

func (m *Mock) IncTransitions(action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[action]++
}

func (m *Mock) IncFailures(operation, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[operation+"/"+kind]++
}

func (m *Mock) ObservePersistenceDuration(operation string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[operation] = append(m.durations[operation], seconds)
}

func (m *Mock) AddScoreRepairs(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoreRepairs += count
}

func (m *Mock) IncReconcileRuns() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileRuns++
}

// PointsRecorded returns the number of points recorded for side.
func (m *Mock) PointsRecorded(side string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pointsRecorded[side]
}

// PointsUndone returns the number of times IncPointsUndone was called.
func (m *Mock) PointsUndone() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pointsUndone
}

// Transitions returns the number of successful transitions for action.
func (m *Mock) Transitions(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitions[action]
}

// Failures returns the number of failures recorded for operation and kind.
func (m *Mock) Failures(operation, kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[operation+"/"+kind]
}

// Durations returns the observed persistence durations for operation.
func (m *Mock) Durations(operation string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.durations[operation]...)
}

// ScoreRepairs returns the accumulated repair count.
func (m *Mock) ScoreRepairs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scoreRepairs
}

// ReconcileRuns returns the number of times IncReconcileRuns was called.
func (m *Mock) ReconcileRuns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconcileRuns
}
