package scraper

import (
	"math"
	"time"

	"github.com/sna-ai/sna/internal/models"
)

// LimitConfig parameterises the adaptive fetch size calculation.
type LimitConfig struct {
	DefaultLimit int
	MinLimit     int
	MaxLimit     int
	// Alpha is the EMA smoothing factor for avg_new_rate.
	Alpha float64
	// SafetyMargin overshoots the estimate slightly so a burst of activity
	// is not missed.
	SafetyMargin float64
}

// DefaultLimitConfig returns the standard parameters.
func DefaultLimitConfig() LimitConfig {
	return LimitConfig{
		DefaultLimit: 100,
		MinLimit:     10,
		MaxLimit:     300,
		Alpha:        0.3,
		SafetyMargin: 1.2,
	}
}

// NextLimit computes how many tweets to request for a username given its
// fetch history. Rules are evaluated in order:
//
//  1. no prior record: the default limit
//  2. the previous fetch was fully new: double it (we hit the window edge)
//  3. three or more consecutive empty fetches: the minimum
//  4. otherwise: last fetched x avg new rate x safety margin, clamped
func NextLimit(stats *models.FetchStats, cfg LimitConfig) int {
	if stats == nil {
		return cfg.DefaultLimit
	}
	if stats.LastNewCount == stats.LastFetchedCount && stats.LastFetchedCount > 0 {
		return min(stats.LastFetchedCount*2, cfg.MaxLimit)
	}
	if stats.ConsecutiveEmptyFetches >= 3 {
		return cfg.MinLimit
	}
	estimate := int(math.Round(float64(stats.LastFetchedCount) * stats.AvgNewRate * cfg.SafetyMargin))
	return clampLimit(estimate, cfg.MinLimit, cfg.MaxLimit)
}

// UpdateStats folds one fetch outcome into the running counters. A nil
// prior starts a fresh record with avg_new_rate at zero.
func UpdateStats(prior *models.FetchStats, username string, fetched, newCount int, now time.Time, alpha float64) models.FetchStats {
	s := models.FetchStats{Username: username}
	if prior != nil {
		s = *prior
		s.Username = username
	}

	s.LastFetchAt = now
	s.LastFetchedCount = fetched
	s.LastNewCount = newCount
	s.TotalFetches++

	if fetched > 0 {
		current := float64(newCount) / float64(fetched)
		s.AvgNewRate = alpha*current + (1-alpha)*s.AvgNewRate
	}

	if newCount > 0 {
		s.ConsecutiveEmptyFetches = 0
	} else {
		s.ConsecutiveEmptyFetches++
	}
	return s
}

func clampLimit(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
