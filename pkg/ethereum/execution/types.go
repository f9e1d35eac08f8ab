package execution

import "time"

// CallTracerName is the built-in tracer producing nested call frames.
const CallTracerName = "callTracer"

// TraceOptions configures debug_trace* calls made with the call tracer.
type TraceOptions struct {
	// Timeout is passed to the node as the tracer timeout. Zero keeps the node default.
	Timeout time.Duration
	// OnlyTopCall skips sub-calls, producing single frame trees.
	OnlyTopCall bool
}

// DefaultTraceOptions returns standard options.
func DefaultTraceOptions() TraceOptions {
	return TraceOptions{
		Timeout: 30 * time.Second,
	}
}

// TracerConfig returns the tracer argument object for the debug_trace* RPC methods.
func (o TraceOptions) TracerConfig() map[string]any {
	cfg := map[string]any{
		"tracer": CallTracerName,
		"tracerConfig": map[string]any{
			"onlyTopCall": o.OnlyTopCall,
		},
	}

	if o.Timeout > 0 {
		cfg["timeout"] = o.Timeout.String()
	}

	return cfg
}
