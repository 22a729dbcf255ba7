package config

import "fmt"

// Valid logging levels. Empty defaults to info.
var validLogLevels = map[string]bool{
	"":         true,
	LevelDebug: true,
	LevelInfo:  true,
	LevelWarn:  true,
	LevelError: true,
}

// Valid logging formats. Empty defaults to json.
var validLogFormats = map[string]bool{
	"":        true,
	"json":    true,
	"console": true,
	"pretty":  true,
}

// Validate checks the whole configuration: registration names,
// per-cache backend/strategy/resilience sections, and logging. All
// problems are collected into one ValidationError; nil means valid.
func (c *Config) Validate() error {
	errs := &ValidationError{}

	validateCaches(c, errs)
	validateDefault(c, errs)
	validateLogging(c, errs)

	return errs.ToError()
}

func validateCaches(c *Config, errs *ValidationError) {
	seen := make(map[string]bool)
	for i := range c.Caches {
		validateCache(&c.Caches[i], i, seen, errs)
	}
}

func validateCache(cc *CacheConfig, index int, seen map[string]bool, errs *ValidationError) {
	prefix := func(field string) string {
		if cc.Name != "" {
			return fmt.Sprintf("cache[%s].%s", cc.Name, field)
		}
		return fmt.Sprintf("caches[%d].%s", index, field)
	}

	if cc.Name == "" {
		errs.Addf("caches[%d].name is required", index)
	} else {
		if seen[cc.Name] {
			errs.Addf("duplicate cache name: %s", cc.Name)
		}
		seen[cc.Name] = true
	}

	if err := cc.Backend.Validate(); err != nil {
		errs.Addf("%s: %s", prefix("backend"), err)
	}
	if cc.Strategy != nil {
		if err := cc.Strategy.Validate(); err != nil {
			errs.Addf("%s: %s", prefix("strategy"), err)
		}
	}
	if cc.Resilience != nil {
		if err := cc.Resilience.Validate(); err != nil {
			errs.Addf("%s: %s", prefix("resilience"), err)
		}
	}
	if cc.Fallback != nil {
		if cc.Resilience == nil {
			errs.Addf("%s requires a resilience section", prefix("fallback"))
		} else if err := cc.Fallback.Validate(); err != nil {
			errs.Addf("%s: %s", prefix("fallback"), err)
		}
	}
}

func validateDefault(c *Config, errs *ValidationError) {
	if c.Default == "" {
		return
	}
	for i := range c.Caches {
		if c.Caches[i].Name == c.Default {
			return
		}
	}
	errs.Addf("default names unknown cache %q", c.Default)
}

func validateLogging(c *Config, errs *ValidationError) {
	if !validLogLevels[c.Logging.Level] {
		errs.Addf("logging.level is invalid (got %q, valid: debug, info, warn, error)",
			c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		errs.Addf("logging.format is invalid (got %q, valid: json, console, pretty)",
			c.Logging.Format)
	}
}
