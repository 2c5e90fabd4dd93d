package tracker

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/wolfeidau/seedkeeper"
)

// Detail is what an item's detail page says about it.
type Detail struct {
	Hash               string
	UploadMultiplier   float64
	DownloadMultiplier float64
	Size               int64
	Seeders            int
	Leechers           int

	// AverageProgress is in [0,1], or seedkeeper.UnknownProgress when the
	// page has no progress figure.
	AverageProgress float64
}

// Promotion labels mapped to (upload, download) multipliers.
var promotions = map[string][2]float64{
	"FREE":    {1, 0},
	"2X Free": {2, 0},
	"30%":     {1, 0.3},
	"2X 50%":  {2, 0.5},
	"50%":     {1, 0.5},
	"2X":      {2, 1},
}

var (
	sizeRe     = regexp.MustCompile(`大小[:：]\s*([0-9.,]+\s*[KMGTP]?i?B)`)
	seedersRe  = regexp.MustCompile(`([0-9]+)\s*个做种者`)
	leechersRe = regexp.MustCompile(`([0-9]+)\s*个下载者`)
	progressRe = regexp.MustCompile(`平均进度[:：]\s*\[?\s*([0-9.]+)\s*%`)
	infoHashRe = regexp.MustCompile(`(?i)hash[^:：]*[:：]\s*([0-9a-f]{40})`)
)

// FetchDetail fetches and parses an item's detail page.
func (c *Client) FetchDetail(ctx context.Context, detailURL string) (Detail, error) {
	body, err := c.get(ctx, c.resolve(detailURL), true)
	if err != nil {
		return Detail{}, fmt.Errorf("fetching detail page: %w", err)
	}
	return ParseDetail(body)
}

// ParseDetail extracts promotion multipliers, size, swarm figures and the
// info hash from a detail page.
func ParseDetail(body []byte) (Detail, error) {
	r, err := parseRows(body)
	if err != nil {
		return Detail{}, err
	}

	d := Detail{UploadMultiplier: 1, DownloadMultiplier: 1, AverageProgress: seedkeeper.UnknownProgress}
	if cell := r.cell("流量优惠"); cell != nil {
		d.UploadMultiplier, d.DownloadMultiplier = promotion(cell)
	}

	if size := match(sizeRe, r.text("基本信息")); size != "" {
		b, err := humanize.ParseBytes(strings.ReplaceAll(size, ",", ""))
		if err != nil {
			return Detail{}, fmt.Errorf("parsing size %q: %w", size, err)
		}
		d.Size = int64(b) //nolint:gosec // sizes fit in int64
	}

	peers := r.text("同伴")
	d.Seeders = atoi(match(seedersRe, peers))
	d.Leechers = atoi(match(leechersRe, peers))

	if p, ok := number(match(progressRe, r.text("活力度"))); ok {
		d.AverageProgress = p / 100
	}

	for _, k := range r.keys {
		if h := match(infoHashRe, k+":"+text(r.values[k])); h != "" {
			d.Hash = strings.ToLower(h)
			break
		}
	}
	return d, nil
}

// promotion reads the multipliers from the promotion cell: the first image's
// alt text names a fixed promotion, and a custom "Promotion" carries its two
// multipliers in bold elements.
func promotion(cell *html.Node) (upload, download float64) {
	img := find(cell, func(n *html.Node) bool { return n.DataAtom == atom.Img })
	if img == nil {
		return 1, 1
	}
	alt := strings.TrimSpace(attr(img, "alt"))
	if m, ok := promotions[alt]; ok {
		return m[0], m[1]
	}
	if alt != "Promotion" {
		return 1, 1
	}

	bolds := findAll(cell, func(n *html.Node) bool { return n.DataAtom == atom.B })
	if len(bolds) < 2 {
		return 1, 1
	}
	up, ok1 := number(text(bolds[0]))
	down, ok2 := number(text(bolds[1]))
	if !ok1 || !ok2 {
		return 1, 1
	}
	return up, down
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
