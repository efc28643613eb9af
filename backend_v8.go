//go:build v8

package jsworker

import (
	"github.com/cryguy/jsworker/internal/core"
	"github.com/cryguy/jsworker/internal/v8engine"
)

// newEngineFactory selects the V8-backed core.JSRuntime implementation.
func newEngineFactory() core.EngineFactory {
	return v8engine.New
}
