package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/randpool/internal/bytesize"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value: %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return fmt.Errorf("telemetry.profiling.endpoint is required when profiling is enabled")
	}

	seen := make(map[string]bool, len(cfg.Cache.Locations))
	var total uint64
	for _, loc := range cfg.Cache.Locations {
		if seen[loc.ID] {
			return fmt.Errorf("cache.locations: duplicate location id %q", loc.ID)
		}
		seen[loc.ID] = true
		total += uint64(loc.Size)
	}
	if total < uint64(cfg.Cache.MaxCached) {
		return fmt.Errorf("cache.max_cached (%s) exceeds the combined location size (%s)", cfg.Cache.MaxCached, bytesize.ByteSize(total))
	}
	return nil
}
