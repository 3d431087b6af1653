package config

import (
	"fmt"
	"os"
	"strings"
)

// ModelRef identifies one model at one provider.
type ModelRef struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

func (m ModelRef) String() string {
	return m.Provider + "/" + m.Model
}

// ProviderConfig holds per-provider settings. API keys come from the
// environment variable named by KeysEnv (comma-separated for rotation),
// never from YAML.
type ProviderConfig struct {
	KeysEnv string `yaml:"keys_env"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// Keys returns the rotation key list for the provider.
func (p ProviderConfig) Keys() []string {
	raw := os.Getenv(p.KeysEnv)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		if k := strings.TrimSpace(part); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// ModelRegistry maps pipeline roles to ordered model fallback lists
// (the governance lists) and holds provider configurations.
type ModelRegistry struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Roles     map[string][]ModelRef     `yaml:"roles"`
}

// Governance returns the fallback list for a role, falling back to the
// "default" role when the specific one is not configured.
func (r *ModelRegistry) Governance(role string) []ModelRef {
	if refs, ok := r.Roles[role]; ok && len(refs) > 0 {
		return refs
	}
	return r.Roles["default"]
}

// Provider returns the configuration for a provider name.
func (r *ModelRegistry) Provider(name string) (ProviderConfig, bool) {
	p, ok := r.Providers[name]
	return p, ok
}

// Validate checks that every role reference names a configured provider and
// that a default role exists.
func (r *ModelRegistry) Validate() error {
	if len(r.Roles["default"]) == 0 {
		return fmt.Errorf("model registry has no default role")
	}
	for role, refs := range r.Roles {
		for _, ref := range refs {
			if ref.Provider == "" || ref.Model == "" {
				return fmt.Errorf("role %q has incomplete model ref %+v", role, ref)
			}
			if _, ok := r.Providers[ref.Provider]; !ok {
				return fmt.Errorf("role %q references unknown provider %q", role, ref.Provider)
			}
		}
	}
	return nil
}

// DefaultModelRegistry returns the built-in model governance used when
// models.yaml is absent.
func DefaultModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		Providers: map[string]ProviderConfig{
			"groq":   {KeysEnv: "GROQ_API_KEYS"},
			"gemini": {KeysEnv: "GEMINI_API_KEYS"},
		},
		Roles: map[string][]ModelRef{
			"default": {
				{Provider: "groq", Model: "llama-3.3-70b-versatile"},
				{Provider: "gemini", Model: "gemini-2.0-flash"},
			},
			"orchestrator": {
				{Provider: "groq", Model: "llama-3.3-70b-versatile"},
				{Provider: "gemini", Model: "gemini-2.0-flash"},
			},
			"synthesizer": {
				{Provider: "gemini", Model: "gemini-2.0-flash"},
				{Provider: "groq", Model: "llama-3.3-70b-versatile"},
			},
			"extractor": {
				{Provider: "groq", Model: "llama-3.1-8b-instant"},
				{Provider: "gemini", Model: "gemini-2.0-flash"},
			},
			"episodic_summary": {
				{Provider: "groq", Model: "llama-3.1-8b-instant"},
			},
			"embedder": {
				{Provider: "gemini", Model: "text-embedding-004"},
			},
		},
	}
}
