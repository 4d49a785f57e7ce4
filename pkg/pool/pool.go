// Package pool gathers the candidate ids that a recommendation request
// will score, drawing from three tiers of increasingly loose relations.
package pool

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/openchain/pkg/source"
)

// ErrInsufficientData means no candidate survived, fallbacks included.
var ErrInsufficientData = errors.New("insufficient data")

// Fetcher is the slice of the data facade the builder needs.
type Fetcher interface {
	Related(ctx context.Context, id string, rel source.Relation) ([]string, error)
}

// Tier shares of the pool. The last tier takes whatever is left.
const (
	directShare = 0.5
	searchShare = 0.3
)

// Tier labels where a candidate came from.
type Tier int

const (
	TierFallback Tier = iota
	TierDirect
	TierSearch
	TierTrending
)

func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierSearch:
		return "search"
	case TierTrending:
		return "trending"
	}
	return "fallback"
}

// Pool is a deduplicated candidate list in tier order.
type Pool struct {
	IDs   []string
	Tiers map[string]Tier
}

// Len returns the number of candidates.
func (p *Pool) Len() int { return len(p.IDs) }

type sizing struct {
	base, factor, min, max float64
}

var sizings = map[source.Pair]sizing{
	{Subject: source.KindUser, Find: source.KindUser}: {base: 100, factor: 5, min: 100, max: 200},
	{Subject: source.KindUser, Find: source.KindRepo}: {base: 60, factor: 2, min: 60, max: 100},
	{Subject: source.KindRepo, Find: source.KindUser}: {base: 40, factor: 2.5, min: 40, max: 80},
	{Subject: source.KindRepo, Find: source.KindRepo}: {base: 40, factor: 2.5, min: 40, max: 80},
}

// Size returns how many candidates to gather for a subject of the given scale.
func Size(pair source.Pair, scale float64) int {
	s, ok := sizings[pair]
	if !ok {
		return 0
	}
	n := s.base + (scale-20)*s.factor
	return int(math.Round(math.Max(s.min, math.Min(s.max, n))))
}

// Options configures a Builder.
type Options struct {
	FallbackUsers []string
	FallbackRepos []string
	Rand          *rand.Rand
	Logger        *slog.Logger
}

// Builder assembles candidate pools. Safe for concurrent use.
type Builder struct {
	fetch         Fetcher
	fallbackUsers []string
	fallbackRepos []string
	log           *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBuilder creates a builder. A nil Rand is seeded randomly.
func NewBuilder(f Fetcher, opts Options) *Builder {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		fetch:         f,
		fallbackUsers: opts.FallbackUsers,
		fallbackRepos: opts.FallbackRepos,
		log:           log,
		rng:           rng,
	}
}

// tierSource is one relation lookup feeding a tier.
type tierSource struct {
	id  string
	rel source.Relation
}

// plan lists the lookups for each tier and the ids that must not appear.
type plan struct {
	tiers   [3][]tierSource
	exclude []tierSource
	// expand turns the ids of a tier-2 lookup into more ids, e.g. repos into their contributors.
	expand map[int]source.Relation
	limit  map[int]int
}

// Build gathers up to Size(pair, scale) candidates for subject. The subject
// itself never appears in the result.
func (b *Builder) Build(ctx context.Context, subject *source.Entity, find source.Kind, scale float64) (*Pool, error) {
	pair := source.Pair{Subject: subject.Kind, Find: find}
	size := Size(pair, scale)
	if size == 0 {
		return nil, fmt.Errorf("unsupported pair %s", pair)
	}

	p := b.plan(subject, find)

	var (
		mu          sync.Mutex
		rateLimited bool
	)
	note := func(rel source.Relation, id string, err error) {
		if errors.Is(err, source.ErrNotFound) {
			return
		}
		b.log.Warn("candidate source failed", "relation", rel, "id", id, "error", err)
		if errors.Is(err, source.ErrRateLimitExceeded) {
			mu.Lock()
			rateLimited = true
			mu.Unlock()
		}
	}

	var tierIDs [3][]string
	var g errgroup.Group
	for i := range p.tiers {
		g.Go(func() error {
			tierIDs[i] = b.gather(ctx, p.tiers[i], p.expand[i], p.limit[i], note)
			return nil
		})
	}
	var excludeIDs []string
	g.Go(func() error {
		excludeIDs = b.gather(ctx, p.exclude, "", 0, note)
		return nil
	})
	_ = g.Wait()

	skip := make(map[string]bool)
	skip[strings.ToLower(subject.ID)] = true
	for _, id := range excludeIDs {
		skip[strings.ToLower(id)] = true
	}

	pool := &Pool{Tiers: make(map[string]Tier)}
	quotas := [3]int{
		int(float64(size) * directShare),
		int(float64(size) * searchShare),
	}
	quotas[2] = size - quotas[0] - quotas[1]

	carry := 0
	for i, ids := range tierIDs {
		quota := quotas[i] + carry
		fresh := dedupe(ids, skip)
		if len(fresh) > quota {
			fresh = b.sample(fresh, quota)
		}
		for _, id := range fresh {
			skip[strings.ToLower(id)] = true
			pool.IDs = append(pool.IDs, id)
			pool.Tiers[id] = Tier(i + 1)
		}
		carry = quota - len(fresh)
	}

	if len(pool.IDs) == 0 {
		fallback := b.fallbackUsers
		if find == source.KindRepo {
			fallback = b.fallbackRepos
		}
		for _, id := range dedupe(fallback, skip) {
			if len(pool.IDs) >= size {
				break
			}
			pool.IDs = append(pool.IDs, id)
			pool.Tiers[id] = TierFallback
		}
	}

	if len(pool.IDs) == 0 {
		if rateLimited {
			return nil, source.ErrRateLimitExceeded
		}
		return nil, ErrInsufficientData
	}
	return pool, nil
}

func (b *Builder) plan(subject *source.Entity, find source.Kind) plan {
	p := plan{expand: map[int]source.Relation{}, limit: map[int]int{}}

	switch {
	case subject.Kind == source.KindUser && find == source.KindUser:
		p.tiers[0] = []tierSource{{subject.ID, source.RelFollowers}}
		p.tiers[1] = searches(source.RelUsersByLanguage, topByCount(repoLanguages(subject.Repos), 2))
		p.tiers[2] = []tierSource{{"", source.RelActiveUsers}}
		p.exclude = []tierSource{{subject.ID, source.RelFollowing}}
		// contributors of starred repositories count as direct relations
		p.tiers[0] = append(p.tiers[0], tierSource{subject.ID, source.RelStarred})
		p.expand[0] = source.RelContributors
		p.limit[0] = 5

	case subject.Kind == source.KindUser && find == source.KindRepo:
		p.tiers[0] = []tierSource{{subject.ID, source.RelStarred}}
		if langs := topByCount(repoLanguages(subject.Repos), 1); len(langs) > 0 {
			p.tiers[0] = append(p.tiers[0], tierSource{langs[0], source.RelReposByLanguage})
		}
		p.tiers[1] = searches(source.RelReposByTopic, topByCount(repoTopics(subject.Repos), 3))
		p.tiers[2] = []tierSource{{"", source.RelTrendingRepos}}
		p.exclude = []tierSource{{subject.ID, source.RelUserRepos}}

	case subject.Kind == source.KindRepo && find == source.KindUser:
		p.tiers[0] = []tierSource{{subject.ID, source.RelContributors}}
		if subject.Repo != nil && subject.Repo.Language != "" {
			p.tiers[1] = []tierSource{{subject.Repo.Language, source.RelReposByLanguage}}
			p.expand[1] = source.RelContributors
			p.limit[1] = 5
		}
		p.tiers[2] = []tierSource{{"", source.RelActiveUsers}}

	case subject.Kind == source.KindRepo && find == source.KindRepo:
		p.tiers[0] = []tierSource{{subject.ID, source.RelOwnerRepos}}
		if subject.Repo != nil {
			p.tiers[1] = searches(source.RelReposByTopic, firstN(subject.Repo.Topics, 3))
			if subject.Repo.Language != "" {
				p.tiers[1] = append(p.tiers[1], tierSource{subject.Repo.Language, source.RelReposByLanguage})
			}
		}
		p.tiers[2] = []tierSource{{"", source.RelTrendingRepos}}
	}
	return p
}

// gather runs each lookup in order and concatenates the results. When
// expand is set, the results of the lookups that return repositories are
// replaced by expand(id) for the first limit of them.
func (b *Builder) gather(ctx context.Context, srcs []tierSource, expand source.Relation, limit int,
	note func(source.Relation, string, error)) []string {
	var out []string
	for _, s := range srcs {
		ids, err := b.fetch.Related(ctx, s.id, s.rel)
		if err != nil {
			note(s.rel, s.id, err)
			continue
		}
		if expand == "" || !returnsRepos(s.rel) {
			out = append(out, ids...)
			continue
		}
		for _, repoID := range firstN(ids, limit) {
			more, err := b.fetch.Related(ctx, repoID, expand)
			if err != nil {
				note(expand, repoID, err)
				continue
			}
			out = append(out, more...)
		}
	}
	return out
}

func (b *Builder) sample(ids []string, n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := slices.Clone(ids)
	b.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out[:n]
}

func returnsRepos(rel source.Relation) bool {
	switch rel {
	case source.RelStarred, source.RelUserRepos, source.RelOwnerRepos,
		source.RelReposByLanguage, source.RelReposByTopic, source.RelTrendingRepos:
		return true
	}
	return false
}

func searches(rel source.Relation, keys []string) []tierSource {
	out := make([]tierSource, 0, len(keys))
	for _, k := range keys {
		out = append(out, tierSource{k, rel})
	}
	return out
}

// dedupe drops ids in skip and repeated ids, case-insensitively, keeping order.
func dedupe(ids []string, skip map[string]bool) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		key := strings.ToLower(id)
		if id == "" || skip[key] || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, id)
	}
	return out
}

func repoLanguages(repos []source.Repo) []string {
	var out []string
	for _, r := range repos {
		if r.Language != "" {
			out = append(out, r.Language)
		}
	}
	return out
}

func repoTopics(repos []source.Repo) []string {
	var out []string
	for _, r := range repos {
		out = append(out, r.Topics...)
	}
	return out
}

// topByCount returns the n most frequent values, ties broken alphabetically.
func topByCount(values []string, n int) []string {
	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return firstN(keys, n)
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
