// Package recommend ties the data facade, scorer, pool builder and ranker
// together into one recommendation graph per request.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/openchain/internal/metrics"
	"github.com/elonfeng/openchain/pkg/pool"
	"github.com/elonfeng/openchain/pkg/rank"
	"github.com/elonfeng/openchain/pkg/scale"
	"github.com/elonfeng/openchain/pkg/similarity"
	"github.com/elonfeng/openchain/pkg/source"
)

// DefaultWorkers bounds concurrent candidate scoring.
const DefaultWorkers = 10

// Fetcher is the part of the data facade the engine reads.
type Fetcher interface {
	pool.Fetcher
	LoadEntity(ctx context.Context, kind source.Kind, id string) (*source.Entity, error)
}

// Options configures an Engine.
type Options struct {
	Workers int
	Scorer  *scale.Scorer
	Logger  *slog.Logger
}

// Engine produces recommendation graphs.
type Engine struct {
	fetch   Fetcher
	pools   *pool.Builder
	ranker  *rank.Ranker
	scorer  *scale.Scorer
	workers int
	log     *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(f Fetcher, pools *pool.Builder, ranker *rank.Ranker, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Scorer == nil {
		opts.Scorer = scale.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		fetch:   f,
		pools:   pools,
		ranker:  ranker,
		scorer:  opts.Scorer,
		workers: opts.Workers,
		log:     opts.Logger,
	}
}

// Recommend builds the graph for req. Candidates that fail to load are
// dropped; an empty result is ErrInsufficientData, never an empty graph.
func (e *Engine) Recommend(ctx context.Context, req Request) (*Graph, error) {
	start := time.Now()
	graph, err := e.recommend(ctx, req)
	if err != nil {
		metrics.RecommendErrors.WithLabelValues(ErrorKind(err)).Inc()
		return nil, err
	}
	metrics.ObserveRecommend(req.Pair().String(), start)
	return graph, nil
}

func (e *Engine) recommend(ctx context.Context, req Request) (*Graph, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	pair := req.Pair()

	subject, err := e.load(ctx, pair.Subject, req.Name)
	if err != nil {
		return nil, err
	}
	subjectScale := e.scorer.Of(subject)

	candidates, err := e.pools.Build(ctx, subject, pair.Find, subjectScale)
	if err != nil {
		return nil, fmt.Errorf("build candidate pool: %w", err)
	}
	e.log.Debug("candidate pool built", "subject", subject.ID, "pair", pair.String(), "size", candidates.Len())

	scored := e.score(ctx, subject, pair.Find, candidates.IDs)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("score candidates: %w", err)
	}
	if len(scored) == 0 {
		return nil, ErrInsufficientData
	}

	nodes := e.ranker.ClassifyAndRank(scored, pair, subjectScale, req.Count)
	e.log.Info("recommendation built",
		"subject", subject.ID, "pair", pair.String(),
		"pool", candidates.Len(), "scored", len(scored), "nodes", len(nodes))

	return newGraph(subject, subjectScale, nodes), nil
}

// score loads and scores every candidate on a bounded worker pool. Results
// land in per-index slots so no lock is needed; failed candidates stay nil.
func (e *Engine) score(ctx context.Context, subject *source.Entity, find source.Kind, ids []string) []rank.Candidate {
	slots := make([]*rank.Candidate, len(ids))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, id := range ids {
		g.Go(func() error {
			ent, err := e.fetch.LoadEntity(ctx, find, id)
			if err != nil {
				metrics.CandidatesScored.WithLabelValues("skipped").Inc()
				if !errors.Is(err, source.ErrNotFound) {
					e.log.Warn("candidate skipped", "id", id, "error", err)
				}
				return nil
			}
			if strings.EqualFold(ent.ID, subject.ID) {
				return nil
			}
			metrics.CandidatesScored.WithLabelValues("ok").Inc()
			s := e.scorer.Of(ent)
			slots[i] = &rank.Candidate{
				ID:         ent.ID,
				Kind:       find,
				Similarity: similarity.Between(subject, ent),
				Scale:      s,
				Metrics:    entityMetrics(ent, s),
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]rank.Candidate, 0, len(slots))
	for _, c := range slots {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// ScaleResult is the scale of one entity.
type ScaleResult struct {
	ID        string      `json:"id"`
	Kind      source.Kind `json:"type"`
	Scale     float64     `json:"scale"`
	Level     string      `json:"level"`
	Newcomer  bool        `json:"newcomer,omitempty"`
	Breakdown any         `json:"breakdown"`
}

// Scale scores a single user or repository.
func (e *Engine) Scale(ctx context.Context, kind source.Kind, id string) (*ScaleResult, error) {
	if err := validateName(kind, id); err != nil {
		return nil, err
	}
	ent, err := e.load(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	s := e.scorer.Of(ent)
	res := &ScaleResult{ID: ent.ID, Kind: kind, Scale: s, Level: scale.Level(s)}
	if kind == source.KindUser {
		res.Newcomer = scale.IsNewcomer(ent)
		res.Breakdown = e.scorer.UserComponents(ent)
	} else {
		res.Breakdown = e.scorer.RepoComponents(ent)
	}
	return res, nil
}

// Relationship is two loaded entities and how they compare.
type Relationship struct {
	Subject      *source.Entity
	Target       *source.Entity
	Similarity   float64
	SubjectScale float64
	TargetScale  float64
}

// Relate loads both sides of req and scores them.
func (e *Engine) Relate(ctx context.Context, req RelationshipRequest) (*Relationship, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	subject, err := e.load(ctx, source.Kind(req.Type), req.Name)
	if err != nil {
		return nil, err
	}
	target, err := e.load(ctx, source.Kind(req.Find), req.Target)
	if err != nil {
		return nil, err
	}
	return &Relationship{
		Subject:      subject,
		Target:       target,
		Similarity:   similarity.Between(subject, target),
		SubjectScale: e.scorer.Of(subject),
		TargetScale:  e.scorer.Of(target),
	}, nil
}

func (e *Engine) load(ctx context.Context, kind source.Kind, id string) (*source.Entity, error) {
	ent, err := e.fetch.LoadEntity(ctx, kind, id)
	if errors.Is(err, source.ErrNotFound) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrSubjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	return ent, nil
}

// ErrorKind names the class of err for metrics and logs.
func ErrorKind(err error) string {
	var te *source.TransientError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrSubjectNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, source.ErrRateLimitExceeded):
		return "rate_limited"
	case errors.As(err, &te):
		return "transient"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}
