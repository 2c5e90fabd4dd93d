package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/seedkeeper"
)

const hashA = "0123456789abcdef0123456789abcdef01234567"

func detailPage(promo, size, peers, vitality, hash string) string {
	return fmt.Sprintf(`<html><body><table><tr><td class="outer">
<table><tbody>
<tr><td class="rowhead">下载</td><td class="rowfollow"><a href="download.php?id=1">file.torrent</a></td></tr>
<tr><td class="rowhead">流量优惠</td><td class="rowfollow">%s</td></tr>
<tr><td class="rowhead">基本信息</td><td class="rowfollow"><b>大小:</b>&nbsp;%s&nbsp;&nbsp;<b>类型:</b> BDMV</td></tr>
<tr><td class="rowhead">种子信息</td><td class="rowfollow">Hash码: %s</td></tr>
<tr><td class="rowhead">同伴[查看列表]</td><td class="rowfollow">%s</td></tr>
<tr><td class="rowhead">活力度</td><td class="rowfollow">%s</td></tr>
</tbody></table>
</td></tr></table></body></html>`, promo, size, hash, peers, vitality)
}

const userPage = `<html><body>
<span class="medium">欢迎, <a href="userdetails.php?id=42" class="User_Name"><b>alice</b></a></span>
<table><tr><td class="outer"><table><tbody><tr><td>
<table><tbody>
<tr><td class="rowhead">用户名</td><td class="rowfollow">alice</td></tr>
<tr><td class="rowhead">传输[历史]</td><td class="rowfollow">分享率: 3.142 上传量: 1.5 TiB 下载量: 500.25 GiB 实际上传: 1.4 TiB 实际下载: 480.00 GiB</td></tr>
<tr><td class="rowhead">BT时间</td><td class="rowfollow">做种/下载时间比率: 12.5 做种时间: 120天 03:04:05 下载时间: 9天 14:00:00</td></tr>
<tr><td class="rowhead">UCoin[详情]</td><td class="rowfollow"><span title="(12,345.67)">(12,345.67)</span></td></tr>
</tbody></table>
</td></tr></tbody></table></td></tr></table></body></html>`

func TestParseDetail_Promotions(t *testing.T) {
	tests := []struct {
		name     string
		promo    string
		up, down float64
	}{
		{"free", `<img class="pro_free" alt="FREE">`, 1, 0},
		{"2x free", `<img alt="2X Free">`, 2, 0},
		{"30 percent", `<img alt="30%">`, 1, 0.3},
		{"2x 50 percent", `<img alt="2X 50%">`, 2, 0.5},
		{"50 percent", `<img alt="50%">`, 1, 0.5},
		{"2x", `<img alt="2X">`, 2, 1},
		{"custom", `<img alt="Promotion"> <b>2.33X</b> <b>0.00X</b>`, 2.33, 0},
		{"custom incomplete", `<img alt="Promotion"> <b>2.33X</b>`, 1, 1},
		{"unknown", `<img alt="Something">`, 1, 1},
		{"none", `无`, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDetail([]byte(detailPage(tt.promo, "1 GiB", "", "", hashA)))
			require.NoError(t, err)
			assert.InDelta(t, tt.up, d.UploadMultiplier, 1e-9)
			assert.InDelta(t, tt.down, d.DownloadMultiplier, 1e-9)
		})
	}
}

func TestParseDetail_Figures(t *testing.T) {
	body := detailPage(`<img alt="FREE">`, "1.50 GiB", "5个做种者 | 12个下载者", "平均进度: [25%]", strings.ToUpper(hashA))

	d, err := ParseDetail([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, int64(1610612736), d.Size)
	assert.Equal(t, 5, d.Seeders)
	assert.Equal(t, 12, d.Leechers)
	assert.InDelta(t, 0.25, d.AverageProgress, 1e-9)
	assert.Equal(t, hashA, d.Hash)
}

func TestParseDetail_NotADetailPage(t *testing.T) {
	_, err := ParseDetail([]byte(`<html><body><form action="takelogin.php"></form></body></html>`))
	require.ErrorIs(t, err, ErrUnexpectedPage)
}

func TestParseAccount(t *testing.T) {
	status, err := ParseAccount([]byte(userPage))
	require.NoError(t, err)

	assert.Equal(t, "alice", status.Username)
	assert.Equal(t, "3.142", status.ShareRatio)
	assert.Equal(t, "1.5 TiB", status.Uploaded)
	assert.Equal(t, "500.25 GiB", status.Downloaded)
	assert.Equal(t, "1.4 TiB", status.ActualUploaded)
	assert.Equal(t, "480.00 GiB", status.ActualDownloaded)
	assert.Equal(t, "12,345.67", status.Coin)
	assert.Equal(t, "12.5", status.TimeRatio)
	assert.Equal(t, "120天 03:04:05", status.SeedTime)
	assert.Equal(t, "9天 14:00:00", status.LeechTime)
}

type fakeSite struct {
	*httptest.Server
	cookieSeen atomic.Int32
	indexHits  atomic.Int32
}

func newFakeSite(t *testing.T) *fakeSite {
	t.Helper()
	site := &fakeSite{}
	mux := http.NewServeMux()

	mux.HandleFunc("/torrentrss.php", func(w http.ResponseWriter, r *http.Request) {
		base := site.URL
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0"><channel><title>Tracker</title>
<item><title>Free one</title><link>%[1]s/details.php?id=1</link><category>BDMV</category>
<enclosure url="%[1]s/download.php?id=1&amp;passkey=pk" type="application/x-bittorrent" length="100"/>
<guid isPermaLink="false">%[2]s</guid></item>
<item><title>Paid two</title><link>%[1]s/details.php?id=2</link>
<enclosure url="%[1]s/download.php?id=2&amp;passkey=pk" type="application/x-bittorrent" length="100"/>
<guid isPermaLink="false">item-2</guid></item>
<item><title>Broken three</title><link>%[1]s/details.php?id=3</link>
<enclosure url="%[1]s/download.php?id=3&amp;passkey=pk" type="application/x-bittorrent" length="100"/>
<guid isPermaLink="false">item-3</guid></item>
</channel></rss>`, base, hashA)
	})

	mux.HandleFunc("/details.php", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(DefaultCookieName); err == nil && c.Value == "secret" {
			site.cookieSeen.Add(1)
		}
		switch r.URL.Query().Get("id") {
		case "1":
			_, _ = w.Write([]byte(detailPage(`<img alt="FREE">`, "2 GiB", "3个做种者 | 1个下载者", "平均进度: 10%", hashA)))
		case "2":
			_, _ = w.Write([]byte(detailPage(`<img alt="50%">`, "1 GiB", "1个做种者 | 0个下载者", "平均进度: 0%", "b"+hashA[1:])))
		default:
			http.NotFound(w, r)
		}
	})

	mux.HandleFunc("/index.php", func(w http.ResponseWriter, r *http.Request) {
		site.indexHits.Add(1)
		_, _ = w.Write([]byte(userPage))
	})

	mux.HandleFunc("/userdetails.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "42" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(userPage))
	})

	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>login</html>`))
	})

	site.Server = httptest.NewServer(mux)
	t.Cleanup(site.Close)
	return site
}

func TestFetchFeed(t *testing.T) {
	site := newFakeSite(t)
	c, err := New(site.URL,
		WithFeedURL(site.URL+"/torrentrss.php?passkey=pk"),
		WithCookie("", "secret"),
	)
	require.NoError(t, err)

	items, err := c.FetchFeed(context.Background())
	require.NoError(t, err)

	// the third entry's detail page is missing and is dropped
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "Free one", first.Title)
	assert.Equal(t, "BDMV", first.Category)
	assert.Equal(t, hashA, first.Hash)
	assert.Equal(t, site.URL+"/download.php?id=1&passkey=pk", first.URL)
	assert.True(t, first.IsFree())
	assert.Equal(t, 3, first.Seeders)
	assert.InDelta(t, 0.1, first.AverageProgress, 1e-9)
	assert.Equal(t, int64(2<<30), first.Size)

	second := items[1]
	assert.Equal(t, "Paid two", second.Title)
	assert.False(t, second.IsFree())
	// the guid is not an info hash, so the detail page's hash is used
	assert.Equal(t, "b"+hashA[1:], second.Hash)

	assert.EqualValues(t, 3, site.cookieSeen.Load())
}

func TestFetchFeed_NoFeedURL(t *testing.T) {
	c, err := New("https://tracker.example")
	require.NoError(t, err)
	_, err = c.FetchFeed(context.Background())
	require.Error(t, err)
}

func TestFetchAccountStatus_DiscoversUserID(t *testing.T) {
	site := newFakeSite(t)
	c, err := New(site.URL, WithCookie("", "secret"))
	require.NoError(t, err)

	status, err := c.FetchAccountStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.142", status.ShareRatio)

	_, err = c.FetchAccountStatus(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, site.indexHits.Load())
}

func TestFetchAccountStatus_ConfiguredUserID(t *testing.T) {
	site := newFakeSite(t)
	c, err := New(site.URL, WithUserID("42"))
	require.NoError(t, err)

	_, err = c.FetchAccountStatus(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, site.indexHits.Load())
}

func TestGet_LoginRedirect(t *testing.T) {
	site := newFakeSite(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, site.URL+"/login.php?returnto=index.php", http.StatusFound)
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithUserID("42"))
	require.NoError(t, err)

	_, err = c.FetchAccountStatus(context.Background())
	require.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New("tracker.example")
	require.Error(t, err)
}

func TestDetailURL(t *testing.T) {
	assert.Equal(t, "https://t/details.php?id=7", detailURL("https://t/details.php?id=7#comments", ""))
	assert.Equal(t, "details.php?id=9", detailURL("https://t/other", "https://t/download.php?id=9&passkey=x"))
	assert.Empty(t, detailURL("", "https://t/download.php"))
}

// withoutRow removes the table row whose heading starts with label.
func withoutRow(page, label string) string {
	re := regexp.MustCompile(`<tr><td class="rowhead">` + regexp.QuoteMeta(label) + `[^<]*</td>.*</tr>\n`)
	return re.ReplaceAllString(page, "")
}

func TestParseDetail_MissingHashAndProgress(t *testing.T) {
	page := detailPage(`<img alt="FREE">`, "1 GiB", "3个做种者 | 0个下载者", "", "")
	page = withoutRow(withoutRow(page, "种子信息"), "活力度")
	require.NotContains(t, page, "活力度")

	d, err := ParseDetail([]byte(page))
	require.NoError(t, err)
	assert.Empty(t, d.Hash)
	assert.Equal(t, 3, d.Seeders)
	assert.InDelta(t, 0, d.DownloadMultiplier, 1e-9)
	assert.InDelta(t, seedkeeper.UnknownProgress, d.AverageProgress, 1e-9)

	item := merge(seedkeeper.FeedItem{Title: "x"}, d)
	assert.False(t, item.HasProgress())
}

func TestParseDetail_ZeroProgressIsKnown(t *testing.T) {
	d, err := ParseDetail([]byte(detailPage(`<img alt="FREE">`, "1 GiB", "", "平均进度: 0%", hashA)))
	require.NoError(t, err)
	assert.InDelta(t, 0, d.AverageProgress, 1e-9)
}

// newFeedSite serves a two-entry feed whose guids are not info hashes, with
// detail pages answered by details.
func newFeedSite(t *testing.T, details http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/torrentrss.php", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0"><channel><title>Tracker</title>
<item><title>One</title><link>%[1]s/details.php?id=1</link>
<enclosure url="%[1]s/download.php?id=1" type="application/x-bittorrent" length="100"/>
<guid isPermaLink="false">item-1</guid></item>
<item><title>Two</title><link>%[1]s/details.php?id=2</link>
<enclosure url="%[1]s/download.php?id=2" type="application/x-bittorrent" length="100"/>
<guid isPermaLink="false">item-2</guid></item>
</channel></rss>`, srv.URL)
	})
	mux.HandleFunc("/details.php", details)
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>login</html>`))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchFeed_DropsItemsWithoutHash(t *testing.T) {
	srv := newFeedSite(t, func(w http.ResponseWriter, r *http.Request) {
		hash := ""
		if r.URL.Query().Get("id") == "2" {
			hash = hashA
		}
		_, _ = w.Write([]byte(detailPage(`<img alt="FREE">`, "1 GiB", "3个做种者", "平均进度: 5%", hash)))
	})

	c, err := New(srv.URL, WithFeedURL(srv.URL+"/torrentrss.php"))
	require.NoError(t, err)

	items, err := c.FetchFeed(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Two", items[0].Title)
	assert.Equal(t, hashA, items[0].Hash)
}

func TestFetchFeed_AllDetailsFail(t *testing.T) {
	srv := newFeedSite(t, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login.php?returnto=details.php", http.StatusFound)
	})

	c, err := New(srv.URL, WithFeedURL(srv.URL+"/torrentrss.php"))
	require.NoError(t, err)

	items, err := c.FetchFeed(context.Background())
	require.ErrorIs(t, err, ErrNoUsableEntries)
	require.ErrorIs(t, err, ErrNotLoggedIn)
	assert.Empty(t, items)
}

func TestFetchFeed_NoneIdentified(t *testing.T) {
	srv := newFeedSite(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(detailPage(`<img alt="FREE">`, "1 GiB", "3个做种者", "", "")))
	})

	c, err := New(srv.URL, WithFeedURL(srv.URL+"/torrentrss.php"))
	require.NoError(t, err)

	_, err = c.FetchFeed(context.Background())
	require.ErrorIs(t, err, ErrNoUsableEntries)
	require.NotErrorIs(t, err, ErrNotLoggedIn)
}
