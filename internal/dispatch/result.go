package dispatch

// Status classifies how a task ended.
type Status int

const (
	// StatusDone means the task completed its work.
	StatusDone Status = iota
	// StatusSkipped means the task chose not to do its work (e.g. the response
	// sink was already closed). Not a fault.
	StatusSkipped
	// StatusFailed means the task hit an error; the dispatcher logs it.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is returned by every Task so that intentional skips and genuine
// failures never share a code path.
type Result struct {
	Status Status
	Err    error
	Reason string
	attrs  []any
}

// Done reports success.
func Done() Result {
	return Result{Status: StatusDone}
}

// Skipped reports an intentional no-op.
func Skipped(reason string) Result {
	return Result{Status: StatusSkipped, Reason: reason}
}

// Failed reports an error. A nil err is treated as Done.
func Failed(err error) Result {
	if err == nil {
		return Done()
	}
	return Result{Status: StatusFailed, Err: err}
}

// With attaches key/value pairs that are added to the dispatcher's log line
// for this result.
func (r Result) With(args ...any) Result {
	r.attrs = append(append([]any(nil), r.attrs...), args...)
	return r
}
