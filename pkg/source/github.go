package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/openchain/internal/cache"
	"github.com/elonfeng/openchain/internal/metrics"
)

// Relation names a list of related ids the client can fetch.
type Relation string

const (
	RelFollowers       Relation = "followers"
	RelFollowing       Relation = "following"
	RelStarred         Relation = "starred"
	RelUserRepos       Relation = "user_repos"
	RelContributors    Relation = "contributors"
	RelOwnerRepos      Relation = "owner_repos"
	RelReposByLanguage Relation = "search_repos_language"
	RelReposByTopic    Relation = "search_repos_topic"
	RelUsersByLanguage Relation = "search_users_language"
	RelTrendingRepos   Relation = "trending_repos"
	RelActiveUsers     Relation = "active_users"
	RelDependencies    Relation = "dependencies"
)

const (
	DefaultBaseURL       = "https://api.github.com"
	DefaultOpenDiggerURL = "https://oss.open-digger.cn"
	DefaultTrendingFeed  = "https://mshibanami.github.io/GitHubTrendingRSS/daily/all.xml"

	recentWindow = 30 * 24 * time.Hour
)

var (
	errRateLimited = errors.New("rate limited")
	errPermanent   = errors.New("permanent upstream error")
)

// Options configures a Client.
type Options struct {
	BaseURL       string
	OpenDiggerURL string
	TrendingFeed  string
	Timeout       time.Duration
	MaxAttempts   int
	Backoff       time.Duration
	PerPage       int
	Filter        *Filter
	Logger        *slog.Logger
}

// Client is the cached, retrying, credential-rotating view of GitHub
// and OpenDigger that the scoring pipeline reads from.
type Client struct {
	http   *http.Client
	creds  *CredentialPool
	cache  *cache.Cache
	filter *Filter
	log    *slog.Logger
	opts   Options
}

// NewClient creates a client. A nil cache gets a default one.
func NewClient(creds *CredentialPool, c *cache.Cache, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.OpenDiggerURL == "" {
		opts.OpenDiggerURL = DefaultOpenDiggerURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.PerPage <= 0 || opts.PerPage > 100 {
		opts.PerPage = 100
	}
	if c == nil {
		c = cache.New(cache.DefaultCapacity, cache.DefaultTTL)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	filter := opts.Filter
	if filter == nil {
		filter = NewFilter(nil)
	}
	return &Client{
		http:   &http.Client{Timeout: opts.Timeout},
		creds:  creds,
		cache:  c,
		filter: filter,
		log:    log,
		opts:   opts,
	}
}

// Cache exposes the client's cache for maintenance.
func (c *Client) Cache() *cache.Cache { return c.cache }

// Credentials exposes the credential pool for health reporting.
func (c *Client) Credentials() *CredentialPool { return c.creds }

// User fetches a profile.
func (c *Client) User(ctx context.Context, login string) (*User, error) {
	return cached(c, "user:"+login, func() (*User, error) {
		var u User
		if err := c.getJSON(ctx, "users", "/users/"+url.PathEscape(login), nil, &u); err != nil {
			return nil, err
		}
		return &u, nil
	})
}

// Repo fetches a repository by owner/name.
func (c *Client) Repo(ctx context.Context, fullName string) (*Repo, error) {
	owner, name, ok := SplitRepo(fullName)
	if !ok {
		return nil, fmt.Errorf("repo %q: %w", fullName, ErrNotFound)
	}
	return cached(c, "repo:"+fullName, func() (*Repo, error) {
		var r Repo
		path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name)
		if err := c.getJSON(ctx, "repos", path, nil, &r); err != nil {
			return nil, err
		}
		return &r, nil
	})
}

// UserRepos lists a user's own repositories, most recently updated first.
func (c *Client) UserRepos(ctx context.Context, login string) ([]Repo, error) {
	return cached(c, "repos_of:"+login, func() ([]Repo, error) {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(c.opts.PerPage))
		q.Set("sort", "updated")
		var repos []Repo
		if err := c.getJSON(ctx, "user_repos", "/users/"+url.PathEscape(login)+"/repos", q, &repos); err != nil {
			return nil, err
		}
		return repos, nil
	})
}

// RepoActivity counts issues and contributors for a repository.
func (c *Client) RepoActivity(ctx context.Context, fullName string) (Activity, error) {
	return cached(c, "activity:"+fullName, func() (Activity, error) {
		owner, name, ok := SplitRepo(fullName)
		if !ok {
			return Activity{}, fmt.Errorf("repo %q: %w", fullName, ErrNotFound)
		}
		q := url.Values{}
		q.Set("state", "all")
		q.Set("per_page", strconv.Itoa(c.opts.PerPage))
		var issues []struct {
			CreatedAt time.Time `json:"created_at"`
		}
		path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name) + "/issues"
		if err := c.getJSON(ctx, "issues", path, q, &issues); err != nil {
			return Activity{}, err
		}

		act := Activity{TotalIssues: len(issues)}
		cutoff := time.Now().Add(-recentWindow)
		for _, is := range issues {
			if is.CreatedAt.After(cutoff) {
				act.RecentIssues++
			}
		}

		contributors, err := c.Related(ctx, fullName, RelContributors)
		if err != nil && !errors.Is(err, ErrNotFound) {
			c.log.Warn("contributors unavailable", "repo", fullName, "error", err)
		}
		act.Contributors = len(contributors)
		return act, nil
	})
}

// Related returns the ids related to id by rel. For the search relations
// id is the language or topic; for trending and active it is ignored.
func (c *Client) Related(ctx context.Context, id string, rel Relation) ([]string, error) {
	return cached(c, string(rel)+":"+id, func() ([]string, error) {
		ids, err := c.fetchRelated(ctx, id, rel)
		if err != nil {
			return nil, fmt.Errorf("fetch %s of %q: %w", rel, id, err)
		}
		return ids, nil
	})
}

func (c *Client) fetchRelated(ctx context.Context, id string, rel Relation) ([]string, error) {
	perPage := strconv.Itoa(c.opts.PerPage)
	switch rel {
	case RelFollowers, RelFollowing:
		q := url.Values{"per_page": {perPage}}
		var users []Owner
		if err := c.getJSON(ctx, string(rel), "/users/"+url.PathEscape(id)+"/"+string(rel), q, &users); err != nil {
			return nil, err
		}
		return c.filter.Apply(logins(users)), nil

	case RelStarred:
		q := url.Values{"per_page": {perPage}}
		var repos []Repo
		if err := c.getJSON(ctx, "starred", "/users/"+url.PathEscape(id)+"/starred", q, &repos); err != nil {
			return nil, err
		}
		return repoNames(repos), nil

	case RelUserRepos:
		repos, err := c.UserRepos(ctx, id)
		if err != nil {
			return nil, err
		}
		return repoNames(repos), nil

	case RelContributors:
		owner, name, ok := SplitRepo(id)
		if !ok {
			return nil, ErrNotFound
		}
		q := url.Values{"per_page": {perPage}}
		var users []struct {
			Login string `json:"login"`
			Type  string `json:"type"`
		}
		path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name) + "/contributors"
		if err := c.getJSON(ctx, "contributors", path, q, &users); err != nil {
			return nil, err
		}
		var ids []string
		for _, u := range users {
			if u.Type != "Bot" {
				ids = append(ids, u.Login)
			}
		}
		return c.filter.Apply(ids), nil

	case RelOwnerRepos:
		owner, _, ok := SplitRepo(id)
		if !ok {
			return nil, ErrNotFound
		}
		repos, err := c.UserRepos(ctx, owner)
		if err != nil {
			return nil, err
		}
		var ids []string
		for _, r := range repos {
			if r.FullName != id {
				ids = append(ids, r.FullName)
			}
		}
		return ids, nil

	case RelReposByLanguage:
		return c.searchRepos(ctx, fmt.Sprintf("language:%q stars:>100", id), 30)

	case RelReposByTopic:
		return c.searchRepos(ctx, "topic:"+id, 30)

	case RelUsersByLanguage:
		return c.searchUsers(ctx, fmt.Sprintf("language:%q followers:>100", id), 30)

	case RelTrendingRepos:
		return c.TrendingRepos(ctx)

	case RelActiveUsers:
		return c.searchUsers(ctx, "followers:>1000", 50)

	case RelDependencies:
		return c.dependencies(ctx, id)
	}
	return nil, fmt.Errorf("unknown relation %q", rel)
}

func (c *Client) searchRepos(ctx context.Context, query string, limit int) ([]string, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", "stars")
	q.Set("order", "desc")
	q.Set("per_page", strconv.Itoa(limit))

	var result struct {
		Items []Repo `json:"items"`
	}
	if err := c.getJSON(ctx, "search_repos", "/search/repositories", q, &result); err != nil {
		return nil, err
	}
	return repoNames(result.Items), nil
}

func (c *Client) searchUsers(ctx context.Context, query string, limit int) ([]string, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", "followers")
	q.Set("order", "desc")
	q.Set("per_page", strconv.Itoa(limit))

	var result struct {
		Items []Owner `json:"items"`
	}
	if err := c.getJSON(ctx, "search_users", "/search/users", q, &result); err != nil {
		return nil, err
	}
	return c.filter.Apply(logins(result.Items)), nil
}

// LoadEntity assembles the snapshot of a user or repository. Only a
// missing primary record is fatal; secondary lookups degrade to zero values.
func (c *Client) LoadEntity(ctx context.Context, kind Kind, id string) (*Entity, error) {
	e := &Entity{Kind: kind, ID: id}

	switch kind {
	case KindUser:
		u, err := c.User(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", id, err)
		}
		e.User = u
		e.ID = u.Login
		if repos, err := c.UserRepos(ctx, id); err != nil {
			c.log.Warn("user repos unavailable", "user", id, "error", err)
		} else {
			e.Repos = repos
		}

	case KindRepo:
		r, err := c.Repo(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load repo %s: %w", id, err)
		}
		e.Repo = r
		if r.FullName != "" {
			e.ID = r.FullName
		}
		if act, err := c.RepoActivity(ctx, id); err != nil {
			c.log.Warn("repo activity unavailable", "repo", id, "error", err)
			e.Activity = Activity{PushedAt: r.PushedAt}
		} else {
			act.PushedAt = r.PushedAt
			e.Activity = act
		}

	default:
		return nil, fmt.Errorf("load %s: unknown kind %q", id, kind)
	}

	if or, err := c.OpenRank(ctx, id); err != nil {
		c.log.Warn("openrank unavailable", "id", id, "error", err)
	} else {
		e.OpenRank = or
	}
	return e, nil
}

// getJSON performs a GET against the GitHub API and decodes the body into out.
// 404 returns ErrNotFound at once. A rate limited credential is blocked and the
// request moves to the next credential without spending an attempt.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, q url.Values, out any) error {
	reqURL := c.opts.BaseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	rotations := 0
	return c.withRetry(ctx, endpoint, path, func() error {
		for {
			cred, err := c.creds.Acquire(ctx)
			if err != nil {
				return err
			}
			err = c.do(ctx, reqURL, cred, out)
			if !errors.Is(err, errRateLimited) {
				return err
			}
			rotations++
			if rotations > c.creds.Len() {
				return ErrRateLimitExceeded
			}
			c.log.Warn("credential rate limited, rotating", "endpoint", endpoint)
		}
	})
}

// withRetry runs call until it succeeds or fails for good. Not found,
// permanent and rate limit errors return at once; other failures are
// retried with a fixed backoff and end as *TransientError.
func (c *Client) withRetry(ctx context.Context, endpoint, path string, call func() error) error {
	for attempt := 1; ; attempt++ {
		err := call()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound), errors.Is(err, errPermanent), errors.Is(err, ErrRateLimitExceeded):
			return fmt.Errorf("get %s: %w", path, err)
		case ctx.Err() != nil:
			return fmt.Errorf("get %s: %w", path, ctx.Err())
		}

		if attempt >= c.opts.MaxAttempts {
			return &TransientError{Endpoint: path, Attempts: attempt, Err: err}
		}
		metrics.IncRetry(endpoint)
		c.log.Debug("retrying upstream request", "endpoint", endpoint, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("get %s: %w", path, ctx.Err())
		case <-time.After(c.opts.Backoff):
		}
	}
}

func (c *Client) do(ctx context.Context, reqURL string, cred *Credential, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w: %w", errPermanent, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "openchain/1.0")
	req.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncUpstream(endpointOf(reqURL), "error")
		return fmt.Errorf("call github: %w", err)
	}
	defer resp.Body.Close()
	metrics.IncUpstream(endpointOf(reqURL), metrics.StatusClass(resp.StatusCode))

	remaining, reset := rateHeaders(resp.Header)

	switch {
	case resp.StatusCode == http.StatusNoContent:
		// empty repositories answer contributors with 204
		c.creds.Release(cred, remaining, reset)
		return nil
	case resp.StatusCode == http.StatusOK:
		c.creds.Release(cred, remaining, reset)
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode github response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case isRateLimited(resp, remaining):
		until := reset
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			until = time.Now().Add(time.Duration(secs) * time.Second)
		}
		if until.IsZero() {
			until = time.Now().Add(time.Minute)
		}
		c.creds.Invalidate(cred.Token, until)
		return errRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("github status %d", resp.StatusCode)
	}
	return fmt.Errorf("%w: github status %d", errPermanent, resp.StatusCode)
}

func isRateLimited(resp *http.Response, remaining int) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return remaining == 0 || resp.Header.Get("Retry-After") != ""
	}
	return false
}

// rateHeaders reads X-RateLimit-Remaining and X-RateLimit-Reset. A missing
// remaining header reads as -1.
func rateHeaders(h http.Header) (int, time.Time) {
	remaining := -1
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			remaining = n
		}
	}
	var reset time.Time
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			reset = time.Unix(n, 0)
		}
	}
	return remaining, reset
}

// endpointOf keeps the first path segment so metric labels stay bounded.
func endpointOf(reqURL string) string {
	u, err := url.Parse(reqURL)
	if err != nil {
		return "unknown"
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 3)
	if len(parts) >= 2 && parts[0] == "search" {
		return "search/" + parts[1]
	}
	return parts[0]
}

func cached[T any](c *Client, key string, fetch func() (T, error)) (T, error) {
	if v, ok := c.cache.Get(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}
	t, err := fetch()
	if err != nil {
		return t, err
	}
	c.cache.Put(key, t)
	return t, nil
}

// SplitRepo splits "owner/name".
func SplitRepo(fullName string) (owner, name string, ok bool) {
	owner, name, ok = strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return owner, name, true
}

func logins(users []Owner) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.Login != "" {
			ids = append(ids, u.Login)
		}
	}
	return ids
}

func repoNames(repos []Repo) []string {
	ids := make([]string, 0, len(repos))
	for _, r := range repos {
		if r.FullName != "" {
			ids = append(ids, r.FullName)
		}
	}
	return ids
}
