package tracker

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/seedkeeper"
)

var hexHashRe = regexp.MustCompile(`(?i)^[0-9a-f]{40}$`)

// FetchFeed reads the RSS catalog and enriches every entry from its detail
// page. Entries whose detail page cannot be read, or that carry no info hash
// in either the feed or the detail page, are left out of this result; the
// rest keep feed order.
func (c *Client) FetchFeed(ctx context.Context) ([]seedkeeper.FeedItem, error) {
	if c.feedURL == "" {
		return nil, fmt.Errorf("tracker: no feed url configured")
	}

	body, err := c.get(ctx, c.feedURL, false)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	feed, err := c.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	if len(feed.Items) == 0 {
		return nil, nil
	}

	items := make([]seedkeeper.FeedItem, len(feed.Items))
	kept := make([]bool, len(feed.Items))

	var (
		mu       sync.Mutex
		firstErr error
	)

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, entry := range feed.Items {
		item := feedItem(entry)
		if item.URL == "" || item.DetailURL == "" {
			c.logger.Debug("skipping feed entry without links", "title", entry.Title)
			continue
		}
		g.Go(func() error {
			detail, err := c.FetchDetail(ctx, item.DetailURL)
			if err != nil {
				c.logger.Warn("dropping feed entry", "title", item.Title, "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return nil
			}
			item = merge(item, detail)
			if item.Hash == "" {
				c.logger.Warn("dropping feed entry without info hash", "title", item.Title, "detail_url", item.DetailURL)
				return nil
			}
			items[i] = item
			kept[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]seedkeeper.FeedItem, 0, len(items))
	for i, item := range items {
		if kept[i] {
			out = append(out, item)
		}
	}
	c.logger.Debug("feed fetched", "entries", len(feed.Items), "kept", len(out))

	if len(out) == 0 {
		if firstErr != nil {
			return nil, fmt.Errorf("%w: %d entries: %w", ErrNoUsableEntries, len(feed.Items), firstErr)
		}
		return nil, fmt.Errorf("%w: %d entries", ErrNoUsableEntries, len(feed.Items))
	}
	return out, nil
}

// feedItem maps an RSS entry. The download link comes from the enclosure,
// falling back to the entry link.
func feedItem(entry *gofeed.Item) seedkeeper.FeedItem {
	item := seedkeeper.FeedItem{
		Title:              strings.TrimSpace(entry.Title),
		UploadMultiplier:   1,
		DownloadMultiplier: 1,
	}
	if len(entry.Categories) > 0 {
		item.Category = entry.Categories[0]
	}

	for _, enc := range entry.Enclosures {
		if enc.URL != "" {
			item.URL = enc.URL
			break
		}
	}

	if item.URL == "" {
		item.URL = entry.Link
	}
	item.DetailURL = detailURL(entry.Link, item.URL)

	if hexHashRe.MatchString(entry.GUID) {
		item.Hash = seedkeeper.NormalizeHash(entry.GUID)
	}
	return item
}

// detailURL prefers a details.php entry link and otherwise derives the detail
// page from the id parameter of the download link.
func detailURL(link, download string) string {
	if strings.Contains(link, "details.php") {
		return strings.SplitN(link, "#", 2)[0]
	}
	u, err := url.Parse(download)
	if err != nil {
		return ""
	}
	id := u.Query().Get("id")
	if id == "" {
		return ""
	}
	return "details.php?id=" + url.QueryEscape(id)
}

func merge(item seedkeeper.FeedItem, d Detail) seedkeeper.FeedItem {
	item.UploadMultiplier = d.UploadMultiplier
	item.DownloadMultiplier = d.DownloadMultiplier
	item.Seeders = d.Seeders
	item.Leechers = d.Leechers
	item.AverageProgress = d.AverageProgress
	if d.Size > 0 {
		item.Size = d.Size
	}
	if item.Hash == "" {
		item.Hash = seedkeeper.NormalizeHash(d.Hash)
	}
	return item
}
