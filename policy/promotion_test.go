package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/seedkeeper"
)

func freeItem(hash string) seedkeeper.FeedItem {
	return seedkeeper.FeedItem{
		Hash:               hash,
		URL:                "https://tracker.test/download.php?id=" + hash,
		Title:              "item " + hash,
		UploadMultiplier:   1,
		DownloadMultiplier: 0,
		AverageProgress:    0.2,
		Seeders:            3,
	}
}

func TestPromotion_Criteria(t *testing.T) {
	p := DefaultPromotion()

	tests := []struct {
		name   string
		active map[string]struct{}
		mutate func(*seedkeeper.FeedItem)
		want   bool
	}{
		{
			name: "free early swarm is admitted",
			want: true,
		},
		{
			name:   "already active",
			active: map[string]struct{}{"a": {}},
		},
		{
			name:   "active match ignores case",
			active: map[string]struct{}{"a": {}},
			mutate: func(f *seedkeeper.FeedItem) { f.Hash = "A" },
		},
		{
			name:   "not free",
			mutate: func(f *seedkeeper.FeedItem) { f.DownloadMultiplier = 0.5 },
		},
		{
			name:   "average progress too high",
			mutate: func(f *seedkeeper.FeedItem) { f.AverageProgress = 0.5 },
		},
		{
			name:   "average progress at threshold",
			mutate: func(f *seedkeeper.FeedItem) { f.AverageProgress = 0.3 },
		},
		{
			name:   "no info hash",
			mutate: func(f *seedkeeper.FeedItem) { f.Hash = " " },
		},
		{
			name:   "average progress unknown",
			mutate: func(f *seedkeeper.FeedItem) { f.AverageProgress = seedkeeper.UnknownProgress },
		},
		{
			name:   "no seeders",
			mutate: func(f *seedkeeper.FeedItem) { f.Seeders = 0 },
		},
		{
			name:   "single seeder",
			mutate: func(f *seedkeeper.FeedItem) { f.Seeders = 1 },
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := freeItem("a")
			if tt.mutate != nil {
				tt.mutate(&item)
			}
			active := tt.active
			if active == nil {
				active = map[string]struct{}{}
			}

			assert.Equal(t, tt.want, p.Admits(active, item))

			selected := p.Select(active, []seedkeeper.FeedItem{item})
			if tt.want {
				require.Len(t, selected, 1)
			} else {
				require.Empty(t, selected)
			}
		})
	}
}

func TestPromotion_AdmitKeepsFeedOrder(t *testing.T) {
	p := DefaultPromotion()

	feed := []seedkeeper.FeedItem{freeItem("c"), freeItem("a"), freeItem("b")}
	feed[1].DownloadMultiplier = 1

	urls := p.Admit(map[string]struct{}{}, feed)
	require.Equal(t, []string{feed[0].URL, feed[2].URL}, urls)
}

func TestPromotion_Idempotent(t *testing.T) {
	p := DefaultPromotion()
	active := map[string]struct{}{"b": {}}
	feed := []seedkeeper.FeedItem{freeItem("a"), freeItem("b"), freeItem("c"), freeItem("d")}
	feed[3].Seeders = 0

	first := p.Admit(active, feed)
	second := p.Admit(active, feed)

	require.Equal(t, first, second)
	require.Equal(t, []string{feed[0].URL, feed[2].URL}, first)
}

func TestPromotion_EmptyFeed(t *testing.T) {
	p := DefaultPromotion()
	require.Empty(t, p.Admit(nil, nil))
}
