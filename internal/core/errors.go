package core

import "fmt"

// DataCloneError is raised by the clone codec's encoder for non-cloneable
// kinds, recursion-depth overflow, or size overflow. It is surfaced into
// the worker's script as a catchable error at the postMessage call site
// (never routed through the error callback).
type DataCloneError struct {
	Reason string
}

func (e *DataCloneError) Error() string {
	return fmt.Sprintf("DataCloneError: %s", e.Reason)
}

// InvalidDataError is raised by the clone codec's decoder on truncation,
// an unknown type tag, or a dangling ObjectRef. It is routed through the
// runtime's error callback and never surfaced as a script-visible value.
type InvalidDataError struct {
	Reason string
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("InvalidData: %s", e.Reason)
}

// WorkerNotFoundError reports a host call against an unregistered worker id.
type WorkerNotFoundError struct {
	ID string
}

func (e *WorkerNotFoundError) Error() string {
	return fmt.Sprintf("worker not found: %q", e.ID)
}

// WorkerNotRunningError reports a host call against a worker whose event
// loop is not (or no longer) running.
type WorkerNotRunningError struct {
	ID string
}

func (e *WorkerNotRunningError) Error() string {
	return fmt.Sprintf("worker not running: %q", e.ID)
}

// DuplicateWorkerIDError is raised by CreateWorker when the id is already
// registered.
type DuplicateWorkerIDError struct {
	ID string
}

func (e *DuplicateWorkerIDError) Error() string {
	return fmt.Sprintf("duplicate worker id: %q", e.ID)
}

// ScriptError wraps an uncaught engine error from the top-level script or
// a task, tagged with an engine-kind prefix ("JSError in task: ..." or
// "Exception in task: ...").
type ScriptError struct {
	Prefix  string
	Message string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s", e.Prefix, e.Message)
}
