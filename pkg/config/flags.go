package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/atlas-agent/atlas/pkg/models"
)

// Flags are the admin environment switches. They are read once at startup;
// components receive the struct, never os.Getenv.
type Flags struct {
	Debug                 bool
	BypassMemoryInjection bool
	BypassAdaptiveBudget  bool
	BypassVectorSearch    bool
	BypassSemanticCache   bool
	InternalOnly          bool
	InternalWhitelist     map[string]bool
	SessionSecret         string
	DefaultMemoryMode     models.MemoryMode
	Production            bool
}

// LoadFlags reads the admin flags from the environment.
// ATLAS_SESSION_SECRET is required when ATLAS_ENV=production.
func LoadFlags() (*Flags, error) {
	f := &Flags{
		Debug:                 envBool("DEBUG"),
		BypassMemoryInjection: envBool("BYPASS_MEMORY_INJECTION"),
		BypassAdaptiveBudget:  envBool("BYPASS_ADAPTIVE_BUDGET"),
		BypassVectorSearch:    envBool("BYPASS_VECTOR_SEARCH"),
		BypassSemanticCache:   envBool("BYPASS_SEMANTIC_CACHE"),
		InternalOnly:          envBool("INTERNAL_ONLY"),
		InternalWhitelist:     map[string]bool{},
		SessionSecret:         os.Getenv("ATLAS_SESSION_SECRET"),
		DefaultMemoryMode:     models.MemoryModeStandard,
		Production:            strings.EqualFold(os.Getenv("ATLAS_ENV"), "production"),
	}

	for _, id := range strings.Split(os.Getenv("INTERNAL_WHITELIST"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			f.InternalWhitelist[strings.ToLower(id)] = true
		}
	}

	switch mode := strings.ToUpper(os.Getenv("ATLAS_DEFAULT_MEMORY_MODE")); mode {
	case "":
		// keep default
	case string(models.MemoryModeOff), string(models.MemoryModeStandard), string(models.MemoryModeFull):
		f.DefaultMemoryMode = models.MemoryMode(mode)
	default:
		return nil, fmt.Errorf("invalid ATLAS_DEFAULT_MEMORY_MODE %q", mode)
	}

	if f.Production && f.SessionSecret == "" {
		return nil, fmt.Errorf("ATLAS_SESSION_SECRET is required in production")
	}
	if f.SessionSecret == "" {
		f.SessionSecret = "atlas-dev-secret"
	}

	return f, nil
}

// Whitelisted reports whether the user id passes the INTERNAL_ONLY gate.
func (f *Flags) Whitelisted(userID string) bool {
	if !f.InternalOnly {
		return true
	}
	return f.InternalWhitelist[strings.ToLower(userID)]
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}
