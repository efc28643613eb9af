package core

// Host is implemented by the Worker Runtime and consumed by the
// script-side bootstrap's native hooks. It is the only way engine-side
// JavaScript reaches back across the thread boundary: every method here
// corresponds to one of the five native hooks the bootstrap installs.
type Host interface {
	// PostMessageToHost clones value (already engine-native, passed as a
	// clone.Value by the caller's adapter) to wire bytes and fires the
	// binary-message callback. Returns a *DataCloneError on failure, which
	// the bootstrap's __postMessageToHost wrapper rethrows into JS.
	PostMessageToHost(cloned any) error

	// ConsoleLog fires the console callback with a level ("log", "info",
	// "warn", "error", "debug") and a pre-joined message string.
	ConsoleLog(level, message string)

	// RequestClose sets closeRequested and shuts down the task queue, the
	// script-visible close() call's effect.
	RequestClose()

	// ScheduleTimer registers a new timer id for a delay, repeating or not.
	// id comes from the bootstrap's own JS-side monotonically increasing
	// counter; the callback itself stays in engine-owned globalThis state,
	// reached back into via __fireTimer(id) — Go only tracks scheduling
	// metadata, keeping the timer callback and its scheduling split the
	// same way the event loop splits macrotask bookkeeping from the work
	// itself.
	ScheduleTimer(id int, delayMs int, repeating bool)

	// CancelTimer marks id cancelled, lazily, idempotently.
	CancelTimer(id int)
}
