package scraper

import (
	"math"
	"testing"
	"time"

	"github.com/sna-ai/sna/internal/models"
)

func TestNextLimit(t *testing.T) {
	cfg := DefaultLimitConfig()

	tests := []struct {
		name  string
		stats *models.FetchStats
		want  int
	}{
		{
			name:  "no history uses default",
			stats: nil,
			want:  100,
		},
		{
			name: "saturated window doubles",
			stats: &models.FetchStats{
				LastFetchedCount: 50,
				LastNewCount:     50,
			},
			want: 100,
		},
		{
			name: "saturated window doubling is capped",
			stats: &models.FetchStats{
				LastFetchedCount: 200,
				LastNewCount:     200,
			},
			want: 300,
		},
		{
			name: "quiet account drops to minimum",
			stats: &models.FetchStats{
				LastFetchedCount:        100,
				LastNewCount:            0,
				AvgNewRate:              0.4,
				ConsecutiveEmptyFetches: 3,
			},
			want: 10,
		},
		{
			name: "estimate from rate and margin",
			stats: &models.FetchStats{
				LastFetchedCount: 100,
				LastNewCount:     40,
				AvgNewRate:       0.5,
			},
			want: 60, // 100 * 0.5 * 1.2
		},
		{
			name: "tiny estimate clamps to minimum",
			stats: &models.FetchStats{
				LastFetchedCount: 20,
				LastNewCount:     1,
				AvgNewRate:       0.01,
			},
			want: 10,
		},
		{
			name: "large estimate clamps to maximum",
			stats: &models.FetchStats{
				LastFetchedCount: 300,
				LastNewCount:     280,
				AvgNewRate:       0.95,
			},
			want: 300,
		},
		{
			name: "zero fetched last time falls back to minimum",
			stats: &models.FetchStats{
				LastFetchedCount:        0,
				LastNewCount:            0,
				AvgNewRate:              0.5,
				ConsecutiveEmptyFetches: 1,
			},
			want: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextLimit(tt.stats, cfg); got != tt.want {
				t.Errorf("NextLimit() = %d, want %d", got, tt.want)
			}
		})
	}
}

func floatsClose(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestUpdateStatsFirstFetch(t *testing.T) {
	now := time.Date(2025, 8, 19, 12, 0, 0, 0, time.UTC)

	s := UpdateStats(nil, "alice", 100, 40, now, 0.3)

	if s.Username != "alice" {
		t.Errorf("expected username alice, got %s", s.Username)
	}
	if !s.LastFetchAt.Equal(now) {
		t.Errorf("expected LastFetchAt %v, got %v", now, s.LastFetchAt)
	}
	if s.LastFetchedCount != 100 || s.LastNewCount != 40 {
		t.Errorf("unexpected counts: fetched=%d new=%d", s.LastFetchedCount, s.LastNewCount)
	}
	if s.TotalFetches != 1 {
		t.Errorf("expected TotalFetches=1, got %d", s.TotalFetches)
	}
	// 0.3*0.4 + 0.7*0.0
	if !floatsClose(s.AvgNewRate, 0.12) {
		t.Errorf("expected AvgNewRate=0.12, got %f", s.AvgNewRate)
	}
	if s.ConsecutiveEmptyFetches != 0 {
		t.Errorf("expected empty counter 0, got %d", s.ConsecutiveEmptyFetches)
	}
}

func TestUpdateStatsFoldsEMA(t *testing.T) {
	now := time.Now()
	prior := &models.FetchStats{
		Username:     "alice",
		AvgNewRate:   0.5,
		TotalFetches: 4,
	}

	s := UpdateStats(prior, "alice", 50, 10, now, 0.3)

	// 0.3*0.2 + 0.7*0.5
	if !floatsClose(s.AvgNewRate, 0.41) {
		t.Errorf("expected AvgNewRate=0.41, got %f", s.AvgNewRate)
	}
	if s.TotalFetches != 5 {
		t.Errorf("expected TotalFetches=5, got %d", s.TotalFetches)
	}
	if prior.TotalFetches != 4 {
		t.Error("prior record was mutated")
	}
}

func TestUpdateStatsZeroFetchedKeepsRate(t *testing.T) {
	prior := &models.FetchStats{
		Username:                "bob",
		AvgNewRate:              0.5,
		ConsecutiveEmptyFetches: 1,
	}

	s := UpdateStats(prior, "bob", 0, 0, time.Now(), 0.3)

	if !floatsClose(s.AvgNewRate, 0.5) {
		t.Errorf("expected AvgNewRate unchanged at 0.5, got %f", s.AvgNewRate)
	}
	if s.ConsecutiveEmptyFetches != 2 {
		t.Errorf("expected empty counter 2, got %d", s.ConsecutiveEmptyFetches)
	}
}

func TestUpdateStatsEmptyCounter(t *testing.T) {
	now := time.Now()

	// Fetched tweets but none new: the rate decays and the counter grows.
	s := UpdateStats(&models.FetchStats{AvgNewRate: 0.5, ConsecutiveEmptyFetches: 2}, "bob", 40, 0, now, 0.3)
	if !floatsClose(s.AvgNewRate, 0.35) {
		t.Errorf("expected AvgNewRate=0.35, got %f", s.AvgNewRate)
	}
	if s.ConsecutiveEmptyFetches != 3 {
		t.Errorf("expected empty counter 3, got %d", s.ConsecutiveEmptyFetches)
	}

	// Any new tweet resets the counter.
	s = UpdateStats(&s, "bob", 40, 5, now, 0.3)
	if s.ConsecutiveEmptyFetches != 0 {
		t.Errorf("expected empty counter reset, got %d", s.ConsecutiveEmptyFetches)
	}
}
