// Package seedkeeper holds the domain types shared by the daemon client,
// the tracker reader and the background loops.
package seedkeeper

import (
	"strings"
	"time"
)

// WorkItem is a point-in-time copy of an item tracked by the download daemon.
type WorkItem struct {
	// Hash is the info hash, lowercase hex. It is the item's stable identity.
	Hash string `json:"hash"`
	Name string `json:"name"`

	// TotalSize is the size of the item's content in bytes.
	TotalSize int64 `json:"total_size"`

	// HelperPeerCount is the number of peers currently receiving data from us.
	HelperPeerCount int `json:"helper_peer_count"`

	AddedAt time.Time `json:"added_at"`
}

// FeedItem is a candidate item discovered in the tracker's catalog feed.
type FeedItem struct {
	Hash      string `json:"hash"`
	URL       string `json:"url"`
	DetailURL string `json:"detail_url,omitempty"`
	Title     string `json:"title"`
	Category  string `json:"category,omitempty"`

	// UploadMultiplier and DownloadMultiplier scale the tracker's transfer
	// accounting. A download multiplier of zero means the download is free.
	UploadMultiplier   float64 `json:"upload_multiplier"`
	DownloadMultiplier float64 `json:"download_multiplier"`

	// AverageProgress is the swarm's mean completion in [0,1], or
	// UnknownProgress when the tracker did not report it.
	AverageProgress float64 `json:"average_progress"`

	Seeders  int   `json:"seeders"`
	Leechers int   `json:"leechers"`
	Size     int64 `json:"size"`
}

// UnknownProgress marks a feed item whose swarm progress was not reported.
const UnknownProgress = -1

// HasProgress reports whether the swarm's average progress is known.
func (f FeedItem) HasProgress() bool {
	return f.AverageProgress >= 0
}

// IsFree reports whether downloading the item costs no quota.
func (f FeedItem) IsFree() bool {
	return f.DownloadMultiplier == 0
}

// TotalSize returns the aggregate size of items in bytes.
func TotalSize(items []WorkItem) int64 {
	var total int64
	for _, it := range items {
		total += it.TotalSize
	}
	return total
}

// HashSet returns the set of hashes of items.
func HashSet(items []WorkItem) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[NormalizeHash(it.Hash)] = struct{}{}
	}
	return set
}

// NormalizeHash lowercases and trims an info hash so daemon and feed
// identities compare equal.
func NormalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// ShortHash returns a shortened hash for display and logging.
func ShortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}
