package observability

import (
	"context"
	"testing"

	"ticketintel/internal/config"
)

func TestSetupTracing_Disabled_NoOp(t *testing.T) {
	tc := config.GetDefaultConfig().Monitoring.Tracing
	tc.Enabled = false
	shutdown, err := SetupTracing(context.Background(), tc)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if shutdown == nil {
		t.Fatalf("expected non-nil shutdown function")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error: %v", err)
	}
}

func TestSetupTracing_Enabled(t *testing.T) {
	tc := config.GetDefaultConfig().Monitoring.Tracing
	tc.Enabled = true
	tc.Endpoint = ""
	tc.SampleRatio = 0

	// otlp gRPC 导出器惰性连接，创建本身不依赖 collector
	shutdown, err := SetupTracing(context.Background(), tc)
	if err != nil {
		return
	}
	_ = shutdown(context.Background())
}

func TestEndpointHost_Parse(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"http://localhost:4317", "localhost:4317"},
		{"https://otel-collector:4317", "otel-collector:4317"},
		{"127.0.0.1:4317", "127.0.0.1:4317"},
		{"", ""},
		{"http://", "http://"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := endpointHost(tt.input); got != tt.expected {
				t.Fatalf("endpointHost(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSampleRatioAndServiceName(t *testing.T) {
	for _, r := range []float64{-0.1, 0, 1.5} {
		if got := sampleRatio(r); got != 0.1 {
			t.Errorf("sampleRatio(%v) = %v, want 0.1", r, got)
		}
	}
	if got := sampleRatio(0.5); got != 0.5 {
		t.Errorf("sampleRatio(0.5) = %v", got)
	}
	if got := ServiceName(config.TracingConfig{}); got != "ticketintel" {
		t.Errorf("default service name = %q", got)
	}
	if got := ServiceName(config.TracingConfig{ServiceName: "engine-eu"}); got != "engine-eu" {
		t.Errorf("service name = %q", got)
	}
}
