//go:build !v8

package runtime

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cryguy/jsworker/internal/clone"
	"github.com/cryguy/jsworker/internal/core"
	"github.com/cryguy/jsworker/internal/quickjs"
)

// testWorker starts a Worker Runtime on the QuickJS backend (the
// module's default, no cgo-to-V8 toolchain required) and loads src as
// its top-level script, failing the test on any setup error.
func testWorker(t *testing.T, src string, cb Callbacks) *WorkerRuntime {
	t.Helper()
	wr, err := New(t.Name(), quickjs.New, core.EngineConfig{}, cb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(wr.Terminate)
	if err := wr.LoadScript(src); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	return wr
}

func TestWorkerRuntime_PostMessageEchoesRoundTrip(t *testing.T) {
	var (
		mu  sync.Mutex
		got []byte
	)
	cb := Callbacks{
		BinaryMessage: func(id string, data []byte) {
			mu.Lock()
			got = data
			mu.Unlock()
		},
	}

	wr := testWorker(t, `onmessage = function(e) { postMessage(e.data); };`, cb)

	in, err := clone.EncodeToBytes(clone.String("hello"), clone.Limits{})
	if err != nil {
		t.Fatalf("encoding input: %v", err)
	}
	if ok := wr.PostMessage(in); !ok {
		t.Fatal("PostMessage returned false")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		data := got
		mu.Unlock()
		if data != nil {
			v, err := clone.DecodeBytes(data)
			if err != nil {
				t.Fatalf("decoding echoed message: %v", err)
			}
			s, ok := v.(clone.String)
			if !ok || string(s) != "hello" {
				t.Fatalf("echoed value = %#v, want String(\"hello\")", v)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for echoed message")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerRuntime_ConsoleCallback(t *testing.T) {
	var (
		mu      sync.Mutex
		level   string
		message string
	)
	cb := Callbacks{
		Console: func(id, lvl, msg string) {
			mu.Lock()
			level, message = lvl, msg
			mu.Unlock()
		},
	}

	testWorker(t, `console.warn("careful", 42);`, cb)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		l, m := level, message
		mu.Unlock()
		if l != "" {
			if l != "warn" || m != "careful 42" {
				t.Fatalf("console callback = (%q, %q), want (\"warn\", \"careful 42\")", l, m)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for console callback")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerRuntime_SetTimeoutFires(t *testing.T) {
	var (
		mu    sync.Mutex
		fired bool
	)
	cb := Callbacks{
		Console: func(id, level, message string) {
			mu.Lock()
			if message == "fired" {
				fired = true
			}
			mu.Unlock()
		},
	}

	testWorker(t, `setTimeout(function(){ console.log("fired"); }, 10);`, cb)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		f := fired
		mu.Unlock()
		if f {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for timer to fire")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerRuntime_ClearTimeoutPreventsFire(t *testing.T) {
	var (
		mu    sync.Mutex
		fired bool
	)
	cb := Callbacks{
		Console: func(id, level, message string) {
			mu.Lock()
			fired = true
			mu.Unlock()
		},
	}

	testWorker(t, `var id = setTimeout(function(){ console.log("should not fire"); }, 20); clearTimeout(id);`, cb)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatal("cancelled timer fired")
	}
}

func TestWorkerRuntime_MicrotaskBeforeNextTask(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	cb := Callbacks{
		Console: func(id, level, message string) {
			mu.Lock()
			order = append(order, message)
			mu.Unlock()
		},
	}

	wr := testWorker(t, `
		setTimeout(function(){ console.log("timeout"); }, 0);
		Promise.resolve().then(function(){ console.log("microtask"); });
	`, cb)
	_ = wr

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for both callbacks")
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "microtask" || order[1] != "timeout" {
		t.Fatalf("order = %v, want [microtask timeout]", order)
	}
}

func TestWorkerRuntime_InvalidDataRoutesToErrorCallback(t *testing.T) {
	var (
		mu  sync.Mutex
		msg string
	)
	cb := Callbacks{
		Error: func(id, message string) {
			mu.Lock()
			msg = message
			mu.Unlock()
		},
	}

	wr := testWorker(t, `onmessage = function(e) {};`, cb)
	wr.PostMessage([]byte{0xFF, 0xFF, 0xFF})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		m := msg
		mu.Unlock()
		if m != "" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for error callback")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerRuntime_OnmessageThrowReportsJSErrorPrefix(t *testing.T) {
	var (
		mu  sync.Mutex
		msg string
	)
	cb := Callbacks{
		Error: func(id, message string) {
			mu.Lock()
			msg = message
			mu.Unlock()
		},
	}

	wr := testWorker(t, `onmessage = function(e) { throw new Error("boom"); };`, cb)
	in, err := clone.EncodeToBytes(clone.Int32(1), clone.Limits{})
	if err != nil {
		t.Fatalf("encoding input: %v", err)
	}
	wr.PostMessage(in)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		m := msg
		mu.Unlock()
		if m != "" {
			if !strings.HasPrefix(m, "JSError in task:") {
				t.Fatalf("error callback message = %q, want prefix %q", m, "JSError in task:")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for error callback")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerRuntime_SetErrorCallbackReplacesHandler(t *testing.T) {
	wr := testWorker(t, `onmessage = function(e) { throw new Error("boom"); };`, Callbacks{})

	var (
		mu  sync.Mutex
		msg string
	)
	wr.SetErrorCallback(func(id, message string) {
		mu.Lock()
		msg = message
		mu.Unlock()
	})

	in, err := clone.EncodeToBytes(clone.Int32(1), clone.Limits{})
	if err != nil {
		t.Fatalf("encoding input: %v", err)
	}
	wr.PostMessage(in)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		m := msg
		mu.Unlock()
		if m != "" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for replaced error callback")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerRuntime_SetConsoleCallbackReplacesHandler(t *testing.T) {
	wr := testWorker(t, `1;`, Callbacks{})

	var (
		mu      sync.Mutex
		message string
	)
	wr.SetConsoleCallback(func(id, level, msg string) {
		mu.Lock()
		message = msg
		mu.Unlock()
	})

	if _, err := wr.EvalScript(`console.log("hi")`); err != nil {
		t.Fatalf("EvalScript: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		m := message
		mu.Unlock()
		if m == "hi" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for replaced console callback")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerRuntime_TerminateIsIdempotent(t *testing.T) {
	wr := testWorker(t, `1;`, Callbacks{})
	wr.Terminate()
	wr.Terminate()
	if wr.IsRunning() {
		t.Fatal("worker reports running after Terminate")
	}
}

func TestWorkerRuntime_PostMessageAfterTerminateReturnsFalse(t *testing.T) {
	wr := testWorker(t, `1;`, Callbacks{})
	wr.Terminate()
	if ok := wr.PostMessage([]byte{}); ok {
		t.Fatal("PostMessage on terminated worker returned true")
	}
}

func TestWorkerRuntime_EvalScriptReturnsCanonicalNumber(t *testing.T) {
	wr := testWorker(t, `1;`, Callbacks{})
	s, err := wr.EvalScript("21 * 2")
	if err != nil {
		t.Fatalf("EvalScript: %v", err)
	}
	if s != "42" {
		t.Fatalf("EvalScript result = %q, want %q", s, "42")
	}
}

func TestWorkerRuntime_LoadScriptTopLevelError(t *testing.T) {
	wr, err := New(t.Name(), quickjs.New, core.EngineConfig{}, Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer wr.Terminate()

	if err := wr.LoadScript(`throw new Error("boom");`); err == nil {
		t.Fatal("LoadScript with a throwing top-level script returned nil error")
	}
}
