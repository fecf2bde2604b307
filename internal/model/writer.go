package model

// Writer defines a generic interface for emitting sweep reports.
type Writer interface {
	// Write takes a report produced by a single sweep and emits it.
	Write(report *Report) error

	// Name identifies the writer in logs and metrics.
	Name() string
}
