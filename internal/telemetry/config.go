package telemetry

// ServiceName is reported as service.name and as the Pyroscope application.
const ServiceName = "randpool"

// Location describes one configured cache location for resource and
// profiling labels.
type Location struct {
	ID      string
	Backend string
}

// Config configures trace export.
type Config struct {
	Enabled bool

	// Version is reported as service.version.
	Version string

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string

	// Insecure disables TLS towards the collector.
	Insecure bool

	// SampleRate is the fraction of traces kept, from 0.0 to 1.0.
	SampleRate float64

	// Locations are the cache locations of this process.
	Locations []Location

	// SupplyEndpoint is "local" or the URL of the random supply service.
	SupplyEndpoint string
}
