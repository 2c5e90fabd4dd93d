package tracker

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/wolfeidau/seedkeeper"
)

var (
	timeRatioRe      = regexp.MustCompile(`做种/下载时间比率[:：]\s*([0-9.]+)`)
	seedTimeRe       = regexp.MustCompile(`做种时间[:：]\s*([天0-9: ]+[0-9])`)
	leechTimeRe      = regexp.MustCompile(`下载时间[:：]\s*([天0-9: ]+[0-9])`)
	shareRatioRe     = regexp.MustCompile(`分享率[:：]\s*([0-9.]+|无限|---)`)
	uploadedRe       = regexp.MustCompile(`上传量[:：]\s*([0-9., ]+[KMGTP]?i?B)`)
	downloadedRe     = regexp.MustCompile(`下载量[:：]\s*([0-9., ]+[KMGTP]?i?B)`)
	actualUploadRe   = regexp.MustCompile(`实际上传[:：]\s*([0-9., ]+[KMGTP]?i?B)`)
	actualDownloadRe = regexp.MustCompile(`实际下载[:：]\s*([0-9., ]+[KMGTP]?i?B)`)
	coinRe           = regexp.MustCompile(`[(（]([0-9.,]+)[)）]`)
)

// FetchAccountStatus fetches the account's user details page.
func (c *Client) FetchAccountStatus(ctx context.Context) (seedkeeper.AccountStatus, error) {
	uid, err := c.userIDFor(ctx)
	if err != nil {
		return seedkeeper.AccountStatus{}, err
	}

	body, err := c.get(ctx, c.resolve("userdetails.php?id="+url.QueryEscape(uid)), true)
	if err != nil {
		return seedkeeper.AccountStatus{}, fmt.Errorf("fetching user details: %w", err)
	}
	return ParseAccount(body)
}

// ParseAccount extracts the account figures from a user details page. The
// values are kept as the tracker renders them.
func ParseAccount(body []byte) (seedkeeper.AccountStatus, error) {
	r, err := parseRows(body)
	if err != nil {
		return seedkeeper.AccountStatus{}, err
	}

	transfer := r.text("传输")
	times := r.text("BT时间")

	status := seedkeeper.AccountStatus{
		Username:         r.text("用户名"),
		Coin:             match(coinRe, r.text("UCoin")),
		ShareRatio:       match(shareRatioRe, transfer),
		Uploaded:         match(uploadedRe, transfer),
		Downloaded:       match(downloadedRe, transfer),
		ActualUploaded:   match(actualUploadRe, transfer),
		ActualDownloaded: match(actualDownloadRe, transfer),
		SeedTime:         match(seedTimeRe, times),
		LeechTime:        match(leechTimeRe, times),
		TimeRatio:        match(timeRatioRe, times),
	}
	status.Username = strings.TrimSpace(status.Username)
	if status.Username == "" {
		if name, _ := userLink(body); name != "" {
			status.Username = name
		}
	}
	return status, nil
}

// userIDFor returns the configured user id, or discovers it once from the
// User_Name link on the index page.
func (c *Client) userIDFor(ctx context.Context) (string, error) {
	if c.userID != "" {
		return c.userID, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolvedID != "" {
		return c.resolvedID, nil
	}

	body, err := c.get(ctx, c.resolve("index.php"), true)
	if err != nil {
		return "", fmt.Errorf("fetching index page: %w", err)
	}
	_, href := userLink(body)
	if href == "" {
		return "", fmt.Errorf("%w: no user link on index page", ErrUnexpectedPage)
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parsing user link: %w", err)
	}
	id := u.Query().Get("id")
	if id == "" {
		return "", fmt.Errorf("%w: user link %q has no id", ErrUnexpectedPage, href)
	}

	c.resolvedID = id
	c.logger.Debug("discovered tracker user id", "id", id)
	return id, nil
}

// userLink returns the text and href of the a.User_Name anchor.
func userLink(body []byte) (name, href string) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return "", ""
	}
	a := find(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.A && hasClass(n, "User_Name")
	})
	if a == nil {
		return "", ""
	}
	return strings.TrimSpace(text(a)), attr(a, "href")
}
