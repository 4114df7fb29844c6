package scoring

import (
	"math"
	"testing"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	scorer, err := NewScorer(DefaultConfig())
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	return scorer
}

func TestScoreRegressionValue(t *testing.T) {
	scorer := newTestScorer(t)

	result, err := scorer.Score(Metrics{
		CPUUsage:      90,
		RAMUsage:      60,
		Temperature:   45,
		FreeDiskSpace: 70,
		DNSLatencyMS:  50,
		Connectivity:  true,
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	// 10*0.25 + 40*0.25 + 100*0.30 + 70*0.15 + 100*0.05 = 58.0
	if math.Abs(result.Score-58.0) > 1e-9 {
		t.Fatalf("score = %v, want 58.0", result.Score)
	}
	if result.Status != StatusCritical {
		t.Fatalf("status = %s, want critical", result.Status)
	}
}

func TestScoreConnectivityGate(t *testing.T) {
	scorer := newTestScorer(t)

	result, err := scorer.Score(Metrics{
		CPUUsage:      0,
		RAMUsage:      0,
		Temperature:   20,
		FreeDiskSpace: 100,
		DNSLatencyMS:  0,
		Connectivity:  false,
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if result.Score != 0 {
		t.Fatalf("score = %v, want 0 for disconnected device", result.Score)
	}
	if result.Status != StatusOffline {
		t.Fatalf("status = %s, want offline", result.Status)
	}
}

func TestScoreBounds(t *testing.T) {
	scorer := newTestScorer(t)

	cases := []Metrics{
		{CPUUsage: 0, RAMUsage: 0, Temperature: 20, FreeDiskSpace: 100, Connectivity: true},
		{CPUUsage: 100, RAMUsage: 100, Temperature: 120, FreeDiskSpace: 0, DNSLatencyMS: 900, Connectivity: true},
		{CPUUsage: 50, RAMUsage: 50, Temperature: 75, FreeDiskSpace: 50, DNSLatencyMS: 250, Connectivity: true},
	}
	for _, m := range cases {
		result, err := scorer.Score(m)
		if err != nil {
			t.Fatalf("score %+v: %v", m, err)
		}
		if result.Score < 0 || result.Score > 100 {
			t.Fatalf("score %v outside [0,100] for %+v", result.Score, m)
		}
	}
}

func TestScoreRejectsOutOfRange(t *testing.T) {
	scorer := newTestScorer(t)

	cases := []Metrics{
		{CPUUsage: 101, RAMUsage: 10, FreeDiskSpace: 50, Connectivity: true},
		{CPUUsage: -1, RAMUsage: 10, FreeDiskSpace: 50, Connectivity: true},
		{CPUUsage: 10, RAMUsage: 120, FreeDiskSpace: 50, Connectivity: true},
		{CPUUsage: 10, RAMUsage: 10, FreeDiskSpace: -5, Connectivity: true},
		{CPUUsage: 10, RAMUsage: 10, FreeDiskSpace: 50, DNSLatencyMS: -1, Connectivity: true},
	}
	for _, m := range cases {
		if _, err := scorer.Score(m); err == nil {
			t.Fatalf("expected validation error for %+v", m)
		}
	}
}

func TestClassifyThresholds(t *testing.T) {
	scorer := newTestScorer(t)

	cases := []struct {
		score float64
		want  Status
	}{
		{100, StatusHealthy},
		{80, StatusHealthy},
		{79.99, StatusWarning},
		{60, StatusWarning},
		{59.99, StatusCritical},
		{0, StatusCritical},
	}
	for _, tc := range cases {
		if got := scorer.Classify(tc.score); got != tc.want {
			t.Fatalf("classify(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestTemperatureSubScore(t *testing.T) {
	scorer := newTestScorer(t)

	cases := []struct {
		temp float64
		want float64
	}{
		{20, 100},
		{60, 100},
		{75, 50},
		{90, 0},
		{150, 0},
	}
	for _, tc := range cases {
		if got := scorer.TemperatureSubScore(tc.temp); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("temp sub-score(%v) = %v, want %v", tc.temp, got, tc.want)
		}
	}
}

func TestDNSLatencySubScore(t *testing.T) {
	scorer := newTestScorer(t)

	cases := []struct {
		latency float64
		want    float64
	}{
		{0, 100},
		{250, 50},
		{500, 0},
		{900, 0},
	}
	for _, tc := range cases {
		if got := scorer.DNSLatencySubScore(tc.latency); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("dns sub-score(%v) = %v, want %v", tc.latency, got, tc.want)
		}
	}
}

func TestLoadConfigRejectsBadWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.Temperature = 0.60
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected weight sum validation error")
	}
}
