// Package runtime implements the Worker Runtime: one engine instance and
// one OS thread per worker, the event-loop scheduler that drives it, the
// startup handshake, and the five native hooks the script-side bootstrap
// calls back through.
package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	goruntime "runtime"

	"github.com/cryguy/jsworker/internal/bootstrap"
	"github.com/cryguy/jsworker/internal/clone"
	"github.com/cryguy/jsworker/internal/core"
	"github.com/cryguy/jsworker/internal/queue"
)

// maxLoopWait caps a single dequeue wait so the loop stays responsive to
// shutdown even when the queue reports an effectively-infinite wait.
const maxLoopWait = time.Second

// Callbacks is the trio of outbound callback references a Worker Runtime
// fires on its own thread: binary message delivery, console output, and
// uncaught-error reporting. Each is invoked with the worker's id as the
// first argument so a Manager fanning in many runtimes can tell them
// apart.
type Callbacks struct {
	BinaryMessage func(id string, data []byte)
	Console       func(id, level, message string)
	Error         func(id, message string)
}

// WorkerRuntime owns one engine instance and the single goroutine —
// pinned to its own dedicated OS thread via LockOSThread — on which that
// engine is ever touched.
type WorkerRuntime struct {
	id string
	// callbacksMu guards callbacks: a host goroutine may call
	// SetBinaryMessageCallback/SetConsoleCallback/SetErrorCallback at any
	// time, concurrently with the worker goroutine firing the callback it
	// replaces.
	callbacksMu sync.Mutex
	callbacks   Callbacks
	limits      clone.Limits

	queue *queue.TaskQueue

	// engine is written once by the worker goroutine during startup and
	// read by host goroutines only through runtimeMu-guarded accessors
	// (EvalScript, the postMessage decode path), never concurrently with
	// the worker goroutine's own unguarded use inside the event loop —
	// the event loop itself also takes runtimeMu around each task.
	engine core.JSRuntime

	runtimeMu sync.Mutex

	initialized chan struct{}
	initErr     error

	scriptMu     sync.Mutex
	scriptCond   *sync.Cond
	pendingSrc   *string
	scriptDone   bool
	scriptErr    error
	shuttingDown bool

	cancelledMu     sync.Mutex
	cancelledTimers map[int]struct{}

	nextTaskID atomic.Uint64

	running        atomic.Bool
	closeRequested atomic.Bool

	done         chan struct{}
	terminateOne sync.Once
}

var _ core.Host = (*WorkerRuntime)(nil)

// New constructs a Worker Runtime: spawns its dedicated goroutine, which
// creates the engine, installs the bootstrap, and blocks awaiting a
// script. New itself blocks until that startup handshake completes or
// fails.
func New(id string, factory core.EngineFactory, cfg core.EngineConfig, cb Callbacks) (*WorkerRuntime, error) {
	limits := clone.Limits{MaxDepth: cfg.MaxDepth, MaxSize: cfg.MaxCloneBytes}

	wr := &WorkerRuntime{
		id:              id,
		callbacks:       cb,
		limits:          limits,
		queue:           queue.New(),
		initialized:     make(chan struct{}),
		cancelledTimers: make(map[int]struct{}),
		done:            make(chan struct{}),
	}
	wr.scriptCond = sync.NewCond(&wr.scriptMu)

	go wr.threadMain(factory, cfg)

	<-wr.initialized
	if wr.initErr != nil {
		return nil, wr.initErr
	}
	return wr, nil
}

// ID returns the worker's opaque id.
func (wr *WorkerRuntime) ID() string { return wr.id }

// SetBinaryMessageCallback replaces the binary-message callback a
// worker's postMessage calls fire, effective for the next call after this
// returns.
func (wr *WorkerRuntime) SetBinaryMessageCallback(cb func(id string, data []byte)) {
	wr.callbacksMu.Lock()
	wr.callbacks.BinaryMessage = cb
	wr.callbacksMu.Unlock()
}

// SetConsoleCallback replaces the console callback a worker's console.*
// calls fire.
func (wr *WorkerRuntime) SetConsoleCallback(cb func(id, level, message string)) {
	wr.callbacksMu.Lock()
	wr.callbacks.Console = cb
	wr.callbacksMu.Unlock()
}

// SetErrorCallback replaces the callback fired for uncaught task errors
// and invalid inbound messages.
func (wr *WorkerRuntime) SetErrorCallback(cb func(id, message string)) {
	wr.callbacksMu.Lock()
	wr.callbacks.Error = cb
	wr.callbacksMu.Unlock()
}

func (wr *WorkerRuntime) binaryMessageCallback() func(id string, data []byte) {
	wr.callbacksMu.Lock()
	defer wr.callbacksMu.Unlock()
	return wr.callbacks.BinaryMessage
}

func (wr *WorkerRuntime) consoleCallback() func(id, level, message string) {
	wr.callbacksMu.Lock()
	defer wr.callbacksMu.Unlock()
	return wr.callbacks.Console
}

func (wr *WorkerRuntime) errorCallback() func(id, message string) {
	wr.callbacksMu.Lock()
	defer wr.callbacksMu.Unlock()
	return wr.callbacks.Error
}

// IsRunning reports whether the event loop is still accepting work.
func (wr *WorkerRuntime) IsRunning() bool {
	return wr.running.Load() && !wr.closeRequested.Load()
}

// threadMain is the whole body of the worker's dedicated goroutine, from
// engine creation through event-loop exit and engine release.
func (wr *WorkerRuntime) threadMain(factory core.EngineFactory, cfg core.EngineConfig) {
	goruntime.LockOSThread()
	defer goruntime.UnlockOSThread()
	defer close(wr.done)

	engine, err := factory(cfg)
	if err != nil {
		wr.initErr = fmt.Errorf("creating engine for worker %q: %w", wr.id, err)
		close(wr.initialized)
		return
	}
	defer closeEngine(engine)

	if err := bootstrap.Install(engine, wr); err != nil {
		wr.initErr = fmt.Errorf("installing bootstrap for worker %q: %w", wr.id, err)
		close(wr.initialized)
		return
	}

	wr.engine = engine
	wr.running.Store(true)
	close(wr.initialized)

	if !wr.awaitScriptOrShutdown() {
		return
	}
	wr.eventLoop()
}

func closeEngine(engine core.JSRuntime) {
	if c, ok := engine.(interface{ Close() }); ok {
		c.Close()
	}
}

// awaitScriptOrShutdown blocks on the pending-script condition until the
// host loads a script or terminate() fires before one ever arrives.
// Returns false in the latter case.
func (wr *WorkerRuntime) awaitScriptOrShutdown() bool {
	wr.scriptMu.Lock()
	for wr.pendingSrc == nil && !wr.shuttingDown {
		wr.scriptCond.Wait()
	}
	if wr.shuttingDown && wr.pendingSrc == nil {
		wr.scriptMu.Unlock()
		return false
	}
	src := *wr.pendingSrc
	wr.scriptMu.Unlock()

	err := wr.evalTopLevel(src)

	wr.scriptMu.Lock()
	wr.scriptErr = err
	wr.scriptDone = true
	wr.scriptCond.Broadcast()
	wr.scriptMu.Unlock()

	return err == nil
}

func (wr *WorkerRuntime) evalTopLevel(src string) error {
	wr.runtimeMu.Lock()
	defer wr.runtimeMu.Unlock()
	if err := wr.engine.Eval(src); err != nil {
		return err
	}
	wr.engine.RunMicrotasks()
	return nil
}

// LoadScript evaluates src as the worker's top-level script. It signals
// the worker thread and blocks until
// evaluation (plus its microtask drain) completes, returning success
// only if scriptDone is true and no error occurred — so a synchronous
// top-level error surfaces here, failing CreateWorker transitively.
func (wr *WorkerRuntime) LoadScript(src string) error {
	wr.scriptMu.Lock()
	wr.pendingSrc = &src
	wr.scriptCond.Broadcast()
	for !wr.scriptDone {
		wr.scriptCond.Wait()
	}
	err := wr.scriptErr
	wr.scriptMu.Unlock()
	return err
}

// eventLoop prefers an immediate task, falls back to the earliest
// eligible delayed task, caps a single wait at 1s, and drains
// microtasks after every task under the runtime lock.
func (wr *WorkerRuntime) eventLoop() {
	for wr.running.Load() && !wr.closeRequested.Load() {
		wait := wr.queue.TimeUntilNext()
		if wait > maxLoopWait {
			wait = maxLoopWait
		}
		task, ok := wr.queue.Dequeue(wait)
		if !ok {
			continue
		}
		if task.Kind == queue.KindTimer && wr.isTimerCancelled(int(task.ID)) {
			continue
		}

		wr.runtimeMu.Lock()
		wr.runTask(task)
		wr.engine.RunMicrotasks()
		wr.runtimeMu.Unlock()
	}
}

// runTask executes one task's thunk. Errors are reported through
// reportTaskError rather than letting them escape the loop — a caught
// error never terminates the worker.
func (wr *WorkerRuntime) runTask(task *queue.Task) {
	task.Run()
}

// PostMessage enqueues a Message task that decodes data via the clone
// codec and dispatches it to the worker's onmessage/listener set.
// Returns false without enqueueing if the worker isn't accepting new
// work.
func (wr *WorkerRuntime) PostMessage(data []byte) bool {
	if !wr.IsRunning() {
		return false
	}
	task := &queue.Task{
		Kind: queue.KindMessage,
		ID:   wr.nextTaskID.Add(1),
		Run:  func() { wr.deliverMessage(data) },
	}
	wr.queue.Enqueue(task)
	return true
}

func (wr *WorkerRuntime) deliverMessage(data []byte) {
	val, err := clone.DecodeBytes(data)
	if err != nil {
		wr.reportError(fmt.Sprintf("InvalidData: %v", err))
		return
	}
	if err := bootstrap.DeliverMessage(wr.engine, val); err != nil {
		wr.reportTaskError(err)
	}
}

// EvalScript executes src on the worker thread under the runtime lock,
// drains microtasks, and returns the backend's EvalString coercion of the
// result: the V8 backend uses the engine's native ToString, the QuickJS
// backend formats the converted Go value with fmt.Sprint; see DESIGN.md.
func (wr *WorkerRuntime) EvalScript(src string) (string, error) {
	if !wr.IsRunning() {
		return "", &core.WorkerNotRunningError{ID: wr.id}
	}
	wr.runtimeMu.Lock()
	defer wr.runtimeMu.Unlock()
	s, err := wr.engine.EvalString(src)
	if err != nil {
		return "", err
	}
	wr.engine.RunMicrotasks()
	return s, nil
}

// Terminate is idempotent: flips running off, requests close, shuts the
// task queue, unblocks a worker still waiting for its first script,
// joins the thread, and releases the engine (the last via threadMain's
// deferred closeEngine). Safe to call from any goroutine.
func (wr *WorkerRuntime) Terminate() {
	wr.terminateOne.Do(func() {
		wr.running.Store(false)
		wr.closeRequested.Store(true)
		wr.queue.Shutdown()

		wr.scriptMu.Lock()
		wr.shuttingDown = true
		wr.scriptCond.Broadcast()
		wr.scriptMu.Unlock()

		<-wr.done
	})
}

// --- core.Host implementation: the five native hooks' Go-side effects ---

// PostMessageToHost implements core.Host. v must be a clone.Value built
// by bootstrap's __postMessageToHost handler from the JSON intermediate
// the JS encode walk produced.
func (wr *WorkerRuntime) PostMessageToHost(cloned any) error {
	val, ok := cloned.(clone.Value)
	if !ok {
		return fmt.Errorf("postMessage: unexpected clone payload type %T", cloned)
	}
	data, err := clone.EncodeToBytes(val, wr.limits)
	if err != nil {
		return err
	}
	if cb := wr.binaryMessageCallback(); cb != nil {
		cb(wr.id, data)
	}
	return nil
}

func (wr *WorkerRuntime) ConsoleLog(level, message string) {
	if cb := wr.consoleCallback(); cb != nil {
		cb(wr.id, level, message)
	}
}

func (wr *WorkerRuntime) RequestClose() {
	wr.closeRequested.Store(true)
	wr.queue.Shutdown()
}

func (wr *WorkerRuntime) ScheduleTimer(id, delayMs int, repeating bool) {
	delay := time.Duration(delayMs) * time.Millisecond
	wr.enqueueTimer(id, delay, repeating)
}

func (wr *WorkerRuntime) enqueueTimer(id int, delay time.Duration, repeating bool) {
	task := &queue.Task{
		Kind: queue.KindTimer,
		ID:   uint64(id),
		Run:  wr.timerThunk(id, delay, repeating),
	}
	wr.queue.EnqueueDelayed(task, delay)
}

// timerThunk wraps a scheduled __scheduleTimer callback: fire once; if
// repeating and not cancelled since, re-enqueue with the same id and
// delay.
func (wr *WorkerRuntime) timerThunk(id int, delay time.Duration, repeating bool) func() {
	return func() {
		if err := bootstrap.FireTimer(wr.engine, id); err != nil {
			wr.reportTaskError(err)
		}
		if repeating && !wr.isTimerCancelled(id) {
			wr.enqueueTimer(id, delay, repeating)
		}
	}
}

func (wr *WorkerRuntime) CancelTimer(id int) {
	wr.cancelledMu.Lock()
	wr.cancelledTimers[id] = struct{}{}
	wr.cancelledMu.Unlock()
	wr.queue.Cancel(uint64(id))
}

func (wr *WorkerRuntime) isTimerCancelled(id int) bool {
	wr.cancelledMu.Lock()
	defer wr.cancelledMu.Unlock()
	_, ok := wr.cancelledTimers[id]
	return ok
}

// reportTaskError routes an uncaught task error to the error callback.
// A *core.ScriptError (an engine exception caught while running
// __handleMessage or __fireTimer) keeps its own "JSError in task" prefix;
// anything else, a native error that never reached the engine such as
// ToJSExpr rejecting a binary payload, is reported as "Exception in
// task", the same two-way split the original worker core's JSError vs.
// std::exception catch blocks drew. Never terminates the worker.
func (wr *WorkerRuntime) reportTaskError(err error) {
	var msg string
	if se, ok := err.(*core.ScriptError); ok {
		msg = se.Error()
	} else {
		msg = fmt.Sprintf("Exception in task: %v", err)
	}
	core.Log.WithField("worker", wr.id).Warn(msg)
	if cb := wr.errorCallback(); cb != nil {
		cb(wr.id, msg)
	}
}

// reportError routes a non-task error (e.g. InvalidData on message
// decode) to the error callback verbatim.
func (wr *WorkerRuntime) reportError(msg string) {
	core.Log.WithField("worker", wr.id).Warn(msg)
	if cb := wr.errorCallback(); cb != nil {
		cb(wr.id, msg)
	}
}
