//go:build !v8

package jsworker

import (
	"github.com/cryguy/jsworker/internal/core"
	"github.com/cryguy/jsworker/internal/quickjs"
)

// newEngineFactory selects the QuickJS-backed core.JSRuntime
// implementation, the module's default build (no cgo-to-V8 toolchain
// required).
func newEngineFactory() core.EngineFactory {
	return quickjs.New
}
