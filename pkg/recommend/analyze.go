package recommend

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/elonfeng/openchain/internal/metrics"
	"github.com/elonfeng/openchain/pkg/rank"
	"github.com/elonfeng/openchain/pkg/source"
)

// LinkType says how an analysis neighbor relates to the center.
type LinkType string

const (
	LinkDependsOn     LinkType = "depends_on"
	LinkContributesTo LinkType = "contributes_to"
	LinkOwns          LinkType = "owns"
)

// Node types of analysis graphs. They replace the similarity rings.
const (
	NodeDependency  rank.NodeType = "dependency"
	NodeContributor rank.NodeType = "contributor"
	NodeOwned       rank.NodeType = "owned"
)

// Analysis is the direct network of one entity with summary stats.
type Analysis struct {
	Graph
	Stats map[string]any `json:"stats"`
}

// neighbors is one group of analysis nodes sharing a link type.
type neighbors struct {
	kind     source.Kind
	ids      []string
	nodeType rank.NodeType
	link     LinkType
}

// Analyze maps what an entity is built from rather than what resembles it.
// A repository links to the GitHub repositories it depends on and from its
// top contributors; a user links to their most starred repositories. Each
// group holds at most req.Count nodes. Missing dependency data leaves that
// group empty.
func (e *Engine) Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	start := time.Now()
	a, err := e.analyze(ctx, req)
	if err != nil {
		metrics.RecommendErrors.WithLabelValues(ErrorKind(err)).Inc()
		return nil, err
	}
	metrics.ObserveRecommend("analyze-"+req.Type, start)
	return a, nil
}

func (e *Engine) analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	count := req.Count
	if count == 0 {
		count = DefaultAnalyzeCount
	}

	subject, err := e.load(ctx, source.Kind(req.Type), req.Name)
	if err != nil {
		return nil, err
	}
	subjectScale := e.scorer.Of(subject)

	var groups []neighbors
	stats := map[string]any{}
	switch subject.Kind {
	case source.KindRepo:
		deps := e.related(ctx, subject.ID, source.RelDependencies)
		contributors := e.related(ctx, subject.ID, source.RelContributors)
		groups = []neighbors{
			{kind: source.KindRepo, ids: deps, nodeType: NodeDependency, link: LinkDependsOn},
			{kind: source.KindUser, ids: contributors, nodeType: NodeContributor, link: LinkContributesTo},
		}
		stats["stars"] = subject.Repo.Stars
		stats["forks"] = subject.Repo.Forks
		stats["watchers"] = subject.Repo.Watchers
		stats["dependencies_count"] = len(deps)
		stats["contributors_count"] = len(contributors)

	case source.KindUser:
		owned := topStarred(subject.Repos)
		groups = []neighbors{{kind: source.KindRepo, ids: owned, nodeType: NodeOwned, link: LinkOwns}}
		stars := 0
		for _, r := range subject.Repos {
			stars += r.Stars
		}
		stats["public_repos"] = subject.User.PublicRepos
		stats["followers"] = subject.User.Followers
		stats["following"] = subject.User.Following
		stats["total_stars"] = stars
	}
	if subject.HasOpenRank() {
		stats["openrank"] = *subject.OpenRank
	}

	var (
		nodes []rank.Node
		types []LinkType
	)
	for _, grp := range groups {
		ids := grp.ids
		if len(ids) > count {
			ids = ids[:count]
		}
		for _, c := range e.score(ctx, subject, grp.kind, ids) {
			nodes = append(nodes, rank.Node{
				ID:         c.ID,
				Kind:       c.Kind,
				NodeType:   grp.nodeType,
				Similarity: c.Similarity,
				Scale:      c.Scale,
				Metrics:    c.Metrics,
			})
			types = append(types, grp.link)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("score neighbors: %w", err)
	}

	g := newGraph(subject, subjectScale, nodes)
	for i := range g.Links {
		g.Links[i].Type = types[i]
		if types[i] == LinkContributesTo {
			g.Links[i].Source, g.Links[i].Target = g.Links[i].Target, g.Links[i].Source
		}
	}
	e.log.Info("analysis built", "subject", subject.ID, "type", subject.Kind, "nodes", len(nodes))

	return &Analysis{Graph: *g, Stats: stats}, nil
}

// related fetches rel for id, logging and dropping failures.
func (e *Engine) related(ctx context.Context, id string, rel source.Relation) []string {
	ids, err := e.fetch.Related(ctx, id, rel)
	if err != nil {
		if !errors.Is(err, source.ErrNotFound) {
			e.log.Warn("analysis relation unavailable", "id", id, "relation", rel, "error", err)
		}
		return nil
	}
	return ids
}

// topStarred returns owned repository names, most starred first. Forks are skipped.
func topStarred(repos []source.Repo) []string {
	owned := make([]source.Repo, 0, len(repos))
	for _, r := range repos {
		if !r.Fork && r.FullName != "" {
			owned = append(owned, r)
		}
	}
	slices.SortStableFunc(owned, func(a, b source.Repo) int {
		return cmp.Compare(b.Stars, a.Stars)
	})

	ids := make([]string, len(owned))
	for i, r := range owned {
		ids[i] = r.FullName
	}
	return ids
}
