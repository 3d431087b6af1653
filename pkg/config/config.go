// Package config loads and validates the Atlas configuration: YAML files in
// a config directory merged over built-in defaults, with environment
// variable expansion and admin env flags.
package config

// Config is the umbrella configuration object returned by Initialize and
// passed to components at startup. There are no module-level singletons; the
// app container in cmd/atlas owns the only instance.
type Config struct {
	configDir string

	Memory    *MemoryConfig
	Context   *ContextConfig
	Scheduler *SchedulerConfig
	Models    *ModelRegistry
	Flags     *Flags

	// CatalogPath points at the predicate catalog YAML; empty selects the
	// embedded default.
	CatalogPath string
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Governance returns the ordered model fallback list for a role
// ("orchestrator", "synthesizer", "extractor", "episodic_summary",
// "embedder", or a specialist name). Unknown roles fall back to "default".
func (c *Config) Governance(role string) []ModelRef {
	return c.Models.Governance(role)
}
