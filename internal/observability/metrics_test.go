package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that label dimensions match usage in client, syncer and sink.
func TestMetrics_Usable(t *testing.T) {
	ProviderCallsTotal.WithLabelValues("weather", "success").Inc()
	ProviderDuration.WithLabelValues("weather", "rate_limited").Observe(0.1)
	FetchErrorsTotal.WithLabelValues("air_quality", "upstream_5xx").Inc()
	CredentialRotationsTotal.WithLabelValues("rate_limited").Inc()
	RateGovernorWaitSeconds.Observe(1.5)
	DistrictOutcomesTotal.WithLabelValues("partial").Inc()
	SinkWritesTotal.WithLabelValues("postgres", "error").Inc()
	RunsTotal.WithLabelValues("completed").Inc()
	RunDurationSeconds.Set(12)
	RunLastCompletedTimestamp.SetToCurrentTime()
	RecordCircuitBreakerTransition("weather_api", "closed", "open", 1)
}

func TestRegisterRateWindowGauge_Once(t *testing.T) {
	RegisterRateWindowGauge(func() int { return 7 })
	RegisterRateWindowGauge(func() int { return 9 }) // must not panic on duplicate registration

	families, err := Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "rateWindowRequests" {
			if got := f.GetMetric()[0].GetGauge().GetValue(); got != 7 {
				t.Errorf("rateWindowRequests = %v, want 7", got)
			}
			return
		}
	}
	t.Error("rateWindowRequests not registered")
}

func TestFlushTelemetry_Textfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weather_sync.prom")
	RunsTotal.WithLabelValues("completed").Inc()

	if err := FlushTelemetry(context.Background(), nil, FlushConfig{TextfilePath: path}); err != nil {
		t.Fatalf("FlushTelemetry() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "syncRunsTotal") {
		t.Error("textfile should contain syncRunsTotal")
	}
}

func TestFlushTelemetry_Pushgateway(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := FlushTelemetry(context.Background(), nil, FlushConfig{PushgatewayURL: server.URL, Job: "weather_sync"})
	if err != nil {
		t.Fatalf("FlushTelemetry() error = %v", err)
	}
	if !strings.Contains(gotPath, "/metrics/job/weather_sync") {
		t.Errorf("push path = %q, want job grouping", gotPath)
	}
}

func TestFlushTelemetry_NothingConfigured(t *testing.T) {
	if err := FlushTelemetry(context.Background(), nil, FlushConfig{}); err != nil {
		t.Errorf("FlushTelemetry() error = %v, want nil", err)
	}
}
