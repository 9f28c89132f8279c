package observability

import (
	"context"
	"strings"
	"testing"
)

func TestSamplerClampsRatio(t *testing.T) {
	cases := map[float64]string{
		-1:  "AlwaysOffSampler",
		0:   "AlwaysOffSampler",
		0.5: "TraceIDRatioBased{0.5}",
		2:   "AlwaysOnSampler",
	}
	for ratio, want := range cases {
		got := TracerConfig{SampleRatio: ratio}.Sampler().Description()
		if !strings.Contains(got, want) {
			t.Fatalf("ratio %v: expected %q in %q", ratio, want, got)
		}
	}
}

func TestInitTracerWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracerConfig{ServiceName: "api"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown failed: %v", err)
	}
}
