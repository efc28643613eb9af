// Package bootstrap installs the fixed, engine-side worker global scope
// (spec §4.6): self/global, postMessage and the "message" listener set,
// queueMicrotask, close, console.*, and the setTimeout/setInterval/
// setImmediate timer family. Install wires five native hooks first
// (__postMessageToHost, __consoleLog, __requestClose, __scheduleTimer,
// __cancelTimer), grounded on the teacher's internal/webapi
// SetupTimers/SetupConsole register-then-eval pattern, then evaluates
// Source.
package bootstrap

import (
	"fmt"

	"github.com/cryguy/jsworker/internal/clone"
	"github.com/cryguy/jsworker/internal/core"
)

// Install registers the native hooks and evaluates the bootstrap source
// on rt. host receives the native hooks' effects (postMessage delivery,
// console/error routing, close requests, timer scheduling); binSrc is
// used to pull staged ArrayBuffer/TypedArray/DataView payloads across
// from a postMessage call's JSON intermediate — nil if rt does not
// implement core.BinaryTransferer (then such payloads fail to decode,
// surfaced as an InvalidData error thrown at the postMessage call site).
func Install(rt core.JSRuntime, host core.Host) error {
	var binSrc clone.BinarySource
	if bt, ok := rt.(core.BinaryTransferer); ok {
		binSrc = bt
	}

	// (bool, error) rather than a bare error: both engine adapters'
	// RegisterFunc special-case a two-value (T, error) Go return to throw
	// into JS on a non-nil error, which is exactly the rethrow-at-the-
	// call-site behavior postMessage needs for DataCloneError; a bare
	// single error return isn't one of their supported shapes.
	if err := rt.RegisterFunc("__postMessageToHost", func(json string) (bool, error) {
		v, err := clone.FromWireJSON([]byte(json), binSrc)
		if err != nil {
			return false, err
		}
		if err := host.PostMessageToHost(v); err != nil {
			return false, err
		}
		return true, nil
	}); err != nil {
		return fmt.Errorf("registering __postMessageToHost: %w", err)
	}

	if err := rt.RegisterFunc("__consoleLog", func(level, message string) {
		host.ConsoleLog(level, message)
	}); err != nil {
		return fmt.Errorf("registering __consoleLog: %w", err)
	}

	if err := rt.RegisterFunc("__requestClose", func() {
		host.RequestClose()
	}); err != nil {
		return fmt.Errorf("registering __requestClose: %w", err)
	}

	if err := rt.RegisterFunc("__scheduleTimer", func(id, delayMs int, repeating bool) {
		host.ScheduleTimer(id, delayMs, repeating)
	}); err != nil {
		return fmt.Errorf("registering __scheduleTimer: %w", err)
	}

	if err := rt.RegisterFunc("__cancelTimer", func(id int) {
		host.CancelTimer(id)
	}); err != nil {
		return fmt.Errorf("registering __cancelTimer: %w", err)
	}

	if err := rt.Eval(Source); err != nil {
		return fmt.Errorf("evaluating bootstrap source: %w", err)
	}
	return nil
}

// FireTimer invokes the JS-side __fireTimer(id) dispatcher, the hook the
// bootstrap's timer callbacks are reached through when a scheduled Task
// runs (spec §4.4.3's native-hook thunk). A callback that throws comes
// back wrapped as a *core.ScriptError tagged "JSError in task", the prefix
// the original C++ worker core used for exceptions it caught as a genuine
// JSError rather than a native one.
func FireTimer(rt core.JSRuntime, id int) error {
	if err := rt.Eval(fmt.Sprintf("__fireTimer(%d)", id)); err != nil {
		return &core.ScriptError{Prefix: "JSError in task", Message: err.Error()}
	}
	return nil
}

// DeliverMessage evaluates an expression that reconstructs decoded and
// calls __handleMessage with it (spec §4.4.4). sink stages any binary
// payloads the reconstruction needs; nil is fine for value graphs with no
// ArrayBuffer/TypedArray/DataView content.
//
// Two distinct failure sources are reported with two distinct prefixes,
// mirroring the original worker core's separate catch blocks for a
// genuine engine-thrown JSError versus a native exception: ToJSExpr
// failing (e.g. a binary sink rejecting a staged buffer) never reaches
// the engine at all and returns its error bare, for the caller to report
// as "Exception in task"; the engine itself throwing while running
// __handleMessage comes back wrapped as a *core.ScriptError tagged
// "JSError in task".
func DeliverMessage(rt core.JSRuntime, decoded clone.Value) error {
	var sink clone.BinarySink
	if bt, ok := rt.(core.BinaryTransferer); ok {
		sink = bt
	}
	expr, err := clone.ToJSExpr(decoded, sink)
	if err != nil {
		return err
	}
	if err := rt.Eval(fmt.Sprintf("__handleMessage(%s)", expr)); err != nil {
		return &core.ScriptError{Prefix: "JSError in task", Message: err.Error()}
	}
	return nil
}
