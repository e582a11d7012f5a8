package framework

import (
	"strconv"
	"strings"
)

// Failure is an error attributed to where it happened: a runnable, a hand
// or a telemetry sink, and optionally the operation which failed there.
type Failure struct {
	Source string
	Op     string
	Err    error
}

// Error implements error.
func (f *Failure) Error() string {
	var sb strings.Builder
	sb.WriteString(f.Source)
	if f.Op != "" {
		if f.Source != "" {
			sb.WriteByte(' ')
		}
		sb.WriteString(f.Op)
	}
	if sb.Len() > 0 {
		sb.WriteString(": ")
	}
	sb.WriteString(f.Err.Error())
	return sb.String()
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// AggregatedError collects the failures of work fanned out over several
// sources, e.g. the same command sent to both hands.
type AggregatedError struct {
	Failures []*Failure
}

// Error implements error.
func (e *AggregatedError) Error() string {
	switch len(e.Failures) {
	case 0:
		return ""
	case 1:
		return e.Failures[0].Error()
	}
	msg := make([]string, len(e.Failures))
	for n, f := range e.Failures {
		msg[n] = f.Error()
	}
	return strconv.Itoa(len(msg)) + " failures: " + strings.Join(msg, "; ")
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *AggregatedError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for n, f := range e.Failures {
		errs[n] = f
	}
	return errs
}

// Add records err as a failure of op on source. nil is skipped.
func (e *AggregatedError) Add(source, op string, err error) *AggregatedError {
	if err != nil {
		e.Failures = append(e.Failures, &Failure{Source: source, Op: op, Err: err})
	}
	return e
}

// Failed returns the failures recorded for source.
func (e *AggregatedError) Failed(source string) (failures []*Failure) {
	for _, f := range e.Failures {
		if f.Source == source {
			failures = append(failures, f)
		}
	}
	return
}

// Aggregate returns the aggregated error if anything failed.
func (e *AggregatedError) Aggregate() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e
}
