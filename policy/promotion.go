// Package policy holds the pure admission and eviction decisions used by the
// promote and maintain loops.
package policy

import (
	"github.com/wolfeidau/seedkeeper"
)

// Default promotion thresholds.
const (
	DefaultMaxAverageProgress = 0.3
	DefaultMinSeeders         = 1
)

// Promotion decides which feed items to add to the daemon.
//
// An item is admitted when it has an info hash and is not already active,
// its download is free, the swarm's average progress is known and below
// MaxAverageProgress and it has at least MinSeeders seeders.
type Promotion struct {
	MaxAverageProgress float64
	MinSeeders         int
}

// DefaultPromotion returns the default promotion policy.
func DefaultPromotion() Promotion {
	return Promotion{
		MaxAverageProgress: DefaultMaxAverageProgress,
		MinSeeders:         DefaultMinSeeders,
	}
}

// Select returns the admitted feed items in feed order.
func (p Promotion) Select(active map[string]struct{}, feed []seedkeeper.FeedItem) []seedkeeper.FeedItem {
	var admitted []seedkeeper.FeedItem
	for _, item := range feed {
		if p.Admits(active, item) {
			admitted = append(admitted, item)
		}
	}
	return admitted
}

// Admit returns the URLs to submit to the daemon, in feed order.
func (p Promotion) Admit(active map[string]struct{}, feed []seedkeeper.FeedItem) []string {
	selected := p.Select(active, feed)
	urls := make([]string, 0, len(selected))
	for _, item := range selected {
		urls = append(urls, item.URL)
	}
	return urls
}

// Admits reports whether a single item passes the policy.
func (p Promotion) Admits(active map[string]struct{}, item seedkeeper.FeedItem) bool {
	hash := seedkeeper.NormalizeHash(item.Hash)
	if hash == "" {
		return false
	}
	if _, ok := active[hash]; ok {
		return false
	}
	if !item.IsFree() {
		return false
	}
	if !item.HasProgress() || item.AverageProgress >= p.MaxAverageProgress {
		return false
	}
	return item.Seeders >= p.MinSeeders
}
