package transmission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfeidau/seedkeeper"
)

var listFields = []string{"hashString", "name", "totalSize", "peersGettingFromUs", "addedDate"}

type torrent struct {
	HashString         string `json:"hashString"`
	Name               string `json:"name"`
	TotalSize          int64  `json:"totalSize"`
	PeersGettingFromUs int    `json:"peersGettingFromUs"`
	AddedDate          int64  `json:"addedDate"`
}

func (t torrent) workItem() seedkeeper.WorkItem {
	item := seedkeeper.WorkItem{
		Hash:            seedkeeper.NormalizeHash(t.HashString),
		Name:            t.Name,
		TotalSize:       t.TotalSize,
		HelperPeerCount: t.PeersGettingFromUs,
	}
	if t.AddedDate > 0 {
		item.AddedAt = time.Unix(t.AddedDate, 0).UTC()
	}
	return item
}

// ListActive returns every item the daemon holds.
func (c *Client) ListActive(ctx context.Context) ([]seedkeeper.WorkItem, error) {
	var out struct {
		Torrents []torrent `json:"torrents"`
	}
	if err := c.call(ctx, "torrent-get", map[string]any{"fields": listFields}, &out); err != nil {
		return nil, err
	}

	items := make([]seedkeeper.WorkItem, 0, len(out.Torrents))
	for _, t := range out.Torrents {
		items = append(items, t.workItem())
	}
	return items, nil
}

// AddByURL asks the daemon to fetch and start the torrent at url.
// An item the daemon already holds counts as added.
func (c *Client) AddByURL(ctx context.Context, url string) error {
	args := map[string]any{
		"filename": url,
		"paused":   false,
	}
	if c.downloadDir != "" {
		args["download-dir"] = c.downloadDir
	}

	var out struct {
		Added     *torrent `json:"torrent-added"`
		Duplicate *torrent `json:"torrent-duplicate"`
	}
	err := c.call(ctx, "torrent-add", args, &out)

	// Daemons before 2.90 report duplicates through the result string.
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Result == "duplicate torrent" {
		return nil
	}
	if err != nil {
		return err
	}
	if out.Duplicate != nil {
		c.logger.Debug("torrent already present", "hash", seedkeeper.ShortHash(out.Duplicate.HashString))
	}
	return nil
}

// RemoveByHash removes the item and deletes its local data.
func (c *Client) RemoveByHash(ctx context.Context, hash string) error {
	return c.call(ctx, "torrent-remove", map[string]any{
		"ids":               []string{hash},
		"delete-local-data": true,
	}, nil)
}

type transferStats struct {
	UploadedBytes   int64 `json:"uploadedBytes"`
	DownloadedBytes int64 `json:"downloadedBytes"`
	FilesAdded      int   `json:"filesAdded"`
	SessionCount    int   `json:"sessionCount"`
	SecondsActive   int64 `json:"secondsActive"`
}

func (s transferStats) value() seedkeeper.TransferStats {
	return seedkeeper.TransferStats{
		Uploaded:      s.UploadedBytes,
		Downloaded:    s.DownloadedBytes,
		FilesAdded:    s.FilesAdded,
		SessionCount:  s.SessionCount,
		SecondsActive: s.SecondsActive,
	}
}

// SessionStats returns the daemon's transfer statistics.
func (c *Client) SessionStats(ctx context.Context) (seedkeeper.SessionStats, error) {
	var out struct {
		ActiveTorrentCount int           `json:"activeTorrentCount"`
		PausedTorrentCount int           `json:"pausedTorrentCount"`
		TorrentCount       int           `json:"torrentCount"`
		UploadSpeed        int64         `json:"uploadSpeed"`
		DownloadSpeed      int64         `json:"downloadSpeed"`
		Current            transferStats `json:"current-stats"`
		Cumulative         transferStats `json:"cumulative-stats"`
	}
	if err := c.call(ctx, "session-stats", nil, &out); err != nil {
		return seedkeeper.SessionStats{}, err
	}
	return seedkeeper.SessionStats{
		ActiveCount:  out.ActiveTorrentCount,
		PausedCount:  out.PausedTorrentCount,
		TotalCount:   out.TorrentCount,
		UploadRate:   out.UploadSpeed,
		DownloadRate: out.DownloadSpeed,
		Current:      out.Current.value(),
		Cumulative:   out.Cumulative.value(),
	}, nil
}

// SessionInfo describes the daemon.
type SessionInfo struct {
	Version     string `json:"version"`
	RPCVersion  int    `json:"rpc-version"`
	DownloadDir string `json:"download-dir"`
}

// Session returns the daemon's version and default download directory.
func (c *Client) Session(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo
	err := c.call(ctx, "session-get", map[string]any{
		"fields": []string{"version", "rpc-version", "download-dir"},
	}, &info)
	return info, err
}

// Action is a torrent state change.
type Action string

const (
	ActionStart      Action = "torrent-start"
	ActionStartNow   Action = "torrent-start-now"
	ActionStop       Action = "torrent-stop"
	ActionVerify     Action = "torrent-verify"
	ActionReannounce Action = "torrent-reannounce"
)

// ParseAction validates an action name, with or without the "torrent-" prefix.
func ParseAction(s string) (Action, error) {
	for _, a := range []Action{ActionStart, ActionStartNow, ActionStop, ActionVerify, ActionReannounce} {
		if s == string(a) || "torrent-"+s == string(a) {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown torrent action %q", s)
}

// Act applies action to the given items. With no hashes it applies to all.
func (c *Client) Act(ctx context.Context, action Action, hashes ...string) error {
	var args any
	if len(hashes) > 0 {
		args = map[string]any{"ids": hashes}
	}
	return c.call(ctx, string(action), args, nil)
}

// FreeSpace returns the free bytes available at path on the daemon's host.
func (c *Client) FreeSpace(ctx context.Context, path string) (int64, error) {
	var out struct {
		Path      string `json:"path"`
		SizeBytes int64  `json:"size-bytes"`
	}
	if err := c.call(ctx, "free-space", map[string]any{"path": path}, &out); err != nil {
		return 0, err
	}
	return out.SizeBytes, nil
}
