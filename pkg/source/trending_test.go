package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/openchain/internal/cache"
)

const trendingFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>GitHub Trending: All, Today</title>
  <item><title>ollama/ollama</title><link>https://github.com/ollama/ollama</link></item>
  <item><title>golang/go</title><link>https://github.com/golang/go</link></item>
  <item><title>not a repo</title><link>https://example.com/x/y</link></item>
</channel>
</rss>`

func newTrendingClient(t *testing.T, feed http.HandlerFunc) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", feed)
	mux.HandleFunc("/search/repositories", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "stars:>1000", r.URL.Query().Get("q"))
		writeJSON(w, map[string]any{"items": []map[string]any{
			{"full_name": "golang/go"},
			{"full_name": "torvalds/linux"},
		}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	creds, err := NewCredentialPool([]string{"ghp_test"}, 1000, 100)
	require.NoError(t, err)
	return NewClient(creds, cache.New(100, time.Hour), Options{
		BaseURL:      srv.URL,
		TrendingFeed: srv.URL + "/feed.xml",
	})
}

func TestTrendingReposMergesFeedAndSearch(t *testing.T) {
	c := newTrendingClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(trendingFeedXML))
	})

	ids, err := c.Related(context.Background(), "", RelTrendingRepos)
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama/ollama", "golang/go", "torvalds/linux"}, ids)
}

func TestTrendingReposFeedDown(t *testing.T) {
	c := newTrendingClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ids, err := c.TrendingRepos(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"golang/go", "torvalds/linux"}, ids)
}

func TestTrendingReposConcurrent(t *testing.T) {
	c := newTrendingClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(trendingFeedXML))
	})

	var wg sync.WaitGroup
	results := make([][]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := c.TrendingRepos(context.Background())
			assert.NoError(t, err)
			results[i] = ids
		}()
	}
	wg.Wait()

	for _, ids := range results {
		assert.Equal(t, []string{"ollama/ollama", "golang/go", "torvalds/linux"}, ids)
	}
}

func TestRepoFromURL(t *testing.T) {
	id, ok := repoFromURL("https://github.com/golang/go/tree/master")
	assert.True(t, ok)
	assert.Equal(t, "golang/go", id)

	_, ok = repoFromURL("https://gitlab.com/golang/go")
	assert.False(t, ok)
	_, ok = repoFromURL("https://github.com/golang")
	assert.False(t, ok)
}
