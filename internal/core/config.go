package core

// EngineConfig holds per-worker configuration passed to an EngineFactory.
// There is no file or environment-variable loader: this runtime has no
// persisted state and no environment variables, so a plain struct
// constructed by the host embedder is the whole story.
type EngineConfig struct {
	// MemoryLimitMB caps the engine's heap size. Zero means engine default.
	MemoryLimitMB int

	// MaxDepth is the structured-clone recursion-depth limit. Zero means
	// the clone package's default (1000).
	MaxDepth int

	// MaxCloneBytes is the structured-clone output size limit in bytes.
	// Zero means the clone package's default (100 MiB).
	MaxCloneBytes int
}

// EngineFactory constructs a fresh, unshared JSRuntime for exactly one
// worker. The returned runtime must not be touched from any goroutine
// other than the one that calls EngineFactory and subsequently drives the
// worker's event loop — see the Worker Runtime design note on engine
// affinity.
type EngineFactory func(cfg EngineConfig) (JSRuntime, error)
