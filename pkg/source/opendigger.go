package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/elonfeng/openchain/internal/metrics"
)

var monthKey = regexp.MustCompile(`^\d{4}-\d{2}$`)

// OpenRank returns the latest monthly OpenRank for a user login or
// owner/name repository. nil with no error means OpenDigger has no data.
func (c *Client) OpenRank(ctx context.Context, id string) (*float64, error) {
	return cached(c, "openrank:"+id, func() (*float64, error) {
		return c.fetchOpenRank(ctx, id)
	})
}

func (c *Client) fetchOpenRank(ctx context.Context, id string) (*float64, error) {
	path := "/github/" + id + "/openrank.json"
	reqURL := strings.TrimRight(c.opts.OpenDiggerURL, "/") + path

	var value *float64
	err := c.withRetry(ctx, "opendigger", path, func() error {
		v, err := c.openRankOnce(ctx, reqURL)
		value = v
		return err
	})
	return value, err
}

// openRankOnce makes a single request. Server errors and network failures
// are left plain so withRetry tries again.
func (c *Client) openRankOnce(ctx context.Context, reqURL string) (*float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create opendigger request: %w: %w", errPermanent, err)
	}
	req.Header.Set("User-Agent", "openchain/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncUpstream("opendigger", "error")
		return nil, fmt.Errorf("call opendigger: %w", err)
	}
	defer resp.Body.Close()
	metrics.IncUpstream("opendigger", metrics.StatusClass(resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusForbidden:
		// OpenDigger's object store answers 403 for unknown keys
		return nil, nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("opendigger status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: opendigger status %d", errPermanent, resp.StatusCode)
	}

	var series map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&series); err != nil {
		return nil, fmt.Errorf("decode openrank: %w: %w", errPermanent, err)
	}
	return latestMonth(series), nil
}

// latestMonth picks the value of the most recent YYYY-MM key. Yearly,
// quarterly and raw keys are ignored.
func latestMonth(series map[string]float64) *float64 {
	latest := ""
	for k := range series {
		if monthKey.MatchString(k) && k > latest {
			latest = k
		}
	}
	if latest == "" {
		return nil
	}
	v := series[latest]
	return &v
}
