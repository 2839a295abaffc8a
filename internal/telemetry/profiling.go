package telemetry

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig configures continuous profiling.
type ProfilingConfig struct {
	Enabled  bool
	Version  string
	Endpoint string

	// ProfileTypes lists the profiles to collect, by their config names.
	ProfileTypes []string

	// Locations and SupplyEndpoint become profile tags.
	Locations      []Location
	SupplyEndpoint string
}

var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

var (
	profilingMu      sync.Mutex
	profilingEnabled bool
)

// InitProfiling starts the Pyroscope profiler. The returned function stops it.
func InitProfiling(cfg ProfilingConfig) (stop func() error, err error) {
	profilingMu.Lock()
	defer profilingMu.Unlock()

	if !cfg.Enabled {
		profilingEnabled = false
		return func() error { return nil }, nil
	}

	types, err := parseProfileTypes(cfg.ProfileTypes)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		switch t {
		case pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration:
			runtime.SetMutexProfileFraction(5)
		case pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration:
			runtime.SetBlockProfileRate(5)
		}
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            profileTags(cfg),
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	profilingEnabled = true

	return func() error {
		profilingMu.Lock()
		profilingEnabled = false
		profilingMu.Unlock()
		return p.Stop()
	}, nil
}

// IsProfilingEnabled reports whether the profiler is running.
func IsProfilingEnabled() bool {
	profilingMu.Lock()
	defer profilingMu.Unlock()
	return profilingEnabled
}

func parseProfileTypes(names []string) ([]pyroscope.ProfileType, error) {
	out := make([]pyroscope.ProfileType, 0, len(names))
	for _, name := range names {
		t, ok := profileTypes[name]
		if !ok {
			return nil, fmt.Errorf("invalid profile type %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}

// profileTags labels profiles with the version and cache layout. Pyroscope
// tag values cannot be lists, so locations are reported by count and by
// backend.
func profileTags(cfg ProfilingConfig) map[string]string {
	tags := map[string]string{
		"version":   cfg.Version,
		"locations": strconv.Itoa(len(cfg.Locations)),
	}
	for _, l := range cfg.Locations {
		if l.Backend != "" {
			tags["backend_"+l.Backend] = "true"
		}
	}
	if cfg.SupplyEndpoint != "" {
		tags["supply"] = supplyKind(cfg.SupplyEndpoint)
	}
	return tags
}

func supplyKind(endpoint string) string {
	if endpoint == "local" {
		return "local"
	}
	return "remote"
}
