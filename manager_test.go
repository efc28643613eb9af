//go:build !v8

package jsworker

import (
	"sync"
	"testing"
	"time"

	"github.com/cryguy/jsworker/internal/clone"
	"github.com/cryguy/jsworker/internal/core"
)

func TestManager_CreateWorkerDuplicateID(t *testing.T) {
	m := NewManager(core.EngineConfig{}, Callbacks{})
	defer m.TerminateAll()

	if err := m.CreateWorker("w1", `1;`); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}
	err := m.CreateWorker("w1", `1;`)
	if _, ok := err.(*core.DuplicateWorkerIDError); !ok {
		t.Fatalf("CreateWorker duplicate id error = %v (%T), want *core.DuplicateWorkerIDError", err, err)
	}
}

func TestManager_CreateWorkerTopLevelErrorLeavesItUnregistered(t *testing.T) {
	m := NewManager(core.EngineConfig{}, Callbacks{})
	defer m.TerminateAll()

	if err := m.CreateWorker("bad", `throw new Error("boom");`); err == nil {
		t.Fatal("CreateWorker with a throwing script returned nil error")
	}
	if m.HasWorker("bad") {
		t.Fatal("worker with a failed top-level script is still registered")
	}
}

func TestManager_PostMessageUnknownWorkerReturnsFalse(t *testing.T) {
	m := NewManager(core.EngineConfig{}, Callbacks{})
	defer m.TerminateAll()

	if ok := m.PostMessage("nope", []byte{}); ok {
		t.Fatal("PostMessage on unknown worker returned true")
	}
}

func TestManager_EvalScriptUnknownWorker(t *testing.T) {
	m := NewManager(core.EngineConfig{}, Callbacks{})
	defer m.TerminateAll()

	_, err := m.EvalScript("nope", "1")
	if _, ok := err.(*core.WorkerNotFoundError); !ok {
		t.Fatalf("EvalScript unknown worker error = %v (%T), want *core.WorkerNotFoundError", err, err)
	}
}

func TestManager_TerminateWorkerThenIsWorkerRunningFalse(t *testing.T) {
	m := NewManager(core.EngineConfig{}, Callbacks{})
	defer m.TerminateAll()

	id := NewWorkerID()
	if err := m.CreateWorker(id, `1;`); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}
	if !m.TerminateWorker(id) {
		t.Fatal("TerminateWorker returned false for a registered worker")
	}
	if m.IsWorkerRunning(id) {
		t.Fatal("IsWorkerRunning true after TerminateWorker")
	}
	if m.TerminateWorker(id) {
		t.Fatal("TerminateWorker returned true for an already-removed worker")
	}
}

func TestManager_TerminateAllJoinsEveryWorker(t *testing.T) {
	m := NewManager(core.EngineConfig{}, Callbacks{})

	for i := 0; i < 4; i++ {
		if err := m.CreateWorker(NewWorkerID(), `1;`); err != nil {
			t.Fatalf("CreateWorker: %v", err)
		}
	}
	if err := m.TerminateAll(); err != nil {
		t.Fatalf("TerminateAll: %v", err)
	}
	m.mu.Lock()
	n := len(m.workers)
	m.mu.Unlock()
	if n != 0 {
		t.Fatalf("workers remaining after TerminateAll = %d, want 0", n)
	}
}

func TestManager_SetBinaryMessageCallbackAppliesToExistingWorker(t *testing.T) {
	m := NewManager(core.EngineConfig{}, Callbacks{})
	defer m.TerminateAll()

	id := NewWorkerID()
	if err := m.CreateWorker(id, `onmessage = function(e) { postMessage(e.data); };`); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}

	var (
		mu  sync.Mutex
		got []byte
	)
	m.SetBinaryMessageCallback(func(workerID string, data []byte) {
		mu.Lock()
		got = data
		mu.Unlock()
	})

	in, err := clone.EncodeToBytes(clone.Int32(7), clone.Limits{})
	if err != nil {
		t.Fatalf("encoding input: %v", err)
	}
	if ok := m.PostMessage(id, in); !ok {
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
			n, ok := v.(clone.Int32)
			if !ok || n != 7 {
				t.Fatalf("echoed value = %#v, want Int32(7)", v)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for callback set after worker creation")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestManager_EndToEndMessageRoundTrip(t *testing.T) {
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
	m := NewManager(core.EngineConfig{}, cb)
	defer m.TerminateAll()

	id := NewWorkerID()
	if err := m.CreateWorker(id, `onmessage = function(e) { postMessage(e.data + 1); };`); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}

	in, err := clone.EncodeToBytes(clone.Int32(41), clone.Limits{})
	if err != nil {
		t.Fatalf("encoding input: %v", err)
	}
	if ok := m.PostMessage(id, in); !ok {
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
			n, ok := v.(clone.Int32)
			if !ok || n != 42 {
				t.Fatalf("echoed value = %#v, want Int32(42)", v)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for echoed message")
		}
		time.Sleep(time.Millisecond)
	}
}
