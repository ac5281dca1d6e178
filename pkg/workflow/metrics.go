package workflow

import "time"

// MetricsRecorder records engine runtime metrics.
type MetricsRecorder interface {
	RecordRunExecution(status string)
	RecordRunDuration(status string, duration time.Duration)
	IncActiveRuns()
	DecActiveRuns()
	RecordCompensation(status string)
	RecordCompensationDuration(duration time.Duration)
	RecordRecovery(status string)
}

type nopMetricsRecorder struct{}

func (n *nopMetricsRecorder) RecordRunExecution(status string)                        {}
func (n *nopMetricsRecorder) RecordRunDuration(status string, duration time.Duration) {}
func (n *nopMetricsRecorder) IncActiveRuns()                                          {}
func (n *nopMetricsRecorder) DecActiveRuns()                                          {}
func (n *nopMetricsRecorder) RecordCompensation(status string)                        {}
func (n *nopMetricsRecorder) RecordCompensationDuration(duration time.Duration)       {}
func (n *nopMetricsRecorder) RecordRecovery(status string)                            {}
