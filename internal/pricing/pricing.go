// Package pricing derives engagement and fair advertising prices.
package pricing

import (
	"math"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/niche"
)

// Engagement tier thresholds, in percent. Inclusive lower bounds.
const (
	ExcellentThreshold = 20.0
	GoodThreshold      = 10.0
	AverageThreshold   = 5.0
)

// DefaultCPM is the per-niche cost per thousand views in RUB.
var DefaultCPM = map[string]int64{
	"crypto":      3000,
	"finance":     2700,
	"business":    2400,
	"marketing":   2100,
	niche.Default: 1800,
}

// Engine prices a channel from its average reach.
type Engine struct {
	cpm map[string]int64
}

// New builds an Engine. Missing entries, including default, fall back to
// DefaultCPM.
func New(cpm map[string]int64) *Engine {
	table := make(map[string]int64, len(DefaultCPM)+len(cpm))
	for k, v := range DefaultCPM {
		table[k] = v
	}
	for k, v := range cpm {
		if v >= 0 {
			table[k] = v
		}
	}
	return &Engine{cpm: table}
}

// CPM returns the rate for a niche, or the default rate.
func (e *Engine) CPM(nicheName string) int64 {
	if v, ok := e.cpm[nicheName]; ok {
		return v
	}
	return e.cpm[niche.Default]
}

// FairPrice is floor(avgViews * cpm / 1000) in RUB.
func (e *Engine) FairPrice(avgViews float64, nicheName string) int64 {
	if avgViews <= 0 {
		return 0
	}
	return int64(math.Floor(avgViews * float64(e.CPM(nicheName)) / 1000))
}

// USD converts a RUB amount with rate RUB per USD.
func USD(local int64, rate float64) float64 {
	if rate <= 0 || local <= 0 {
		return 0
	}
	return float64(local) / rate
}

// EngagementRate is avgViews / members * 100, or 0 without members.
func EngagementRate(avgViews float64, members int64) float64 {
	if members <= 0 || avgViews <= 0 {
		return 0
	}
	return avgViews / float64(members) * 100
}

// TierFor buckets an engagement rate.
func TierFor(er float64) appraiser.Tier {
	switch {
	case er >= ExcellentThreshold:
		return appraiser.TierExcellent
	case er >= GoodThreshold:
		return appraiser.TierGood
	case er >= AverageThreshold:
		return appraiser.TierAverage
	default:
		return appraiser.TierLow
	}
}

// Average returns the arithmetic mean of views.
func Average(views []int64) float64 {
	if len(views) == 0 {
		return 0
	}
	var sum float64
	for _, v := range views {
		sum += float64(v)
	}
	return sum / float64(len(views))
}
