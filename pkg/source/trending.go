package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
)

// TrendingRepos lists currently trending repositories. Entries from the
// trending feed come first, then the most starred repositories from search.
// Either half may fail on its own; only both failing is an error.
func (c *Client) TrendingRepos(ctx context.Context) ([]string, error) {
	var ids []string
	seen := make(map[string]bool)
	add := func(list []string) {
		for _, id := range list {
			key := strings.ToLower(id)
			if !seen[key] {
				seen[key] = true
				ids = append(ids, id)
			}
		}
	}

	feedIDs, feedErr := c.trendingFeed(ctx)
	if feedErr != nil {
		c.log.Warn("trending feed unavailable", "feed", c.opts.TrendingFeed, "error", feedErr)
	}
	add(feedIDs)

	searchIDs, searchErr := c.searchRepos(ctx, "stars:>1000", 50)
	if searchErr != nil && feedErr != nil {
		return nil, fmt.Errorf("trending repos: %w", searchErr)
	}
	add(searchIDs)
	return ids, nil
}

func (c *Client) trendingFeed(ctx context.Context) ([]string, error) {
	if c.opts.TrendingFeed == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.TrendingFeed, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("User-Agent", "openchain/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch trending feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trending feed status %d", resp.StatusCode)
	}

	// gofeed.Parser fills its translators lazily, so each call gets its own.
	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse trending feed: %w", err)
	}

	var ids []string
	for _, entry := range parsed.Items {
		link := entry.Link
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0]
		}
		if id, ok := repoFromURL(link); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// repoFromURL extracts owner/name from a https://github.com/owner/name link.
func repoFromURL(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil || !strings.EqualFold(u.Host, "github.com") {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "/" + parts[1], true
}
