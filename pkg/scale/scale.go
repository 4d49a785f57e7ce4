// Package scale turns a user or repository snapshot into a bounded
// influence score: [20,40] for users and [20,36] for repositories.
package scale

import (
	"math"
	"time"

	"github.com/elonfeng/openchain/pkg/source"
)

const (
	Floor        = 20.0
	UserCeiling  = 40.0
	RepoCeiling  = 36.0
	activeWindow = 365 * 24 * time.Hour
)

// Scorer computes scales relative to a fixed clock.
type Scorer struct {
	now func() time.Time
}

// New returns a scorer that uses the wall clock.
func New() *Scorer { return &Scorer{now: time.Now} }

// NewAt returns a scorer pinned to t.
func NewAt(t time.Time) *Scorer { return &Scorer{now: func() time.Time { return t }} }

// Of scores any entity. A nil entity scores the floor.
func (s *Scorer) Of(e *source.Entity) float64 {
	if e == nil {
		return Floor
	}
	switch e.Kind {
	case source.KindUser:
		return s.User(e)
	case source.KindRepo:
		return s.Repo(e)
	}
	return Floor
}

// UserBreakdown holds the normalized components of a user score.
type UserBreakdown struct {
	OpenRank    float64 `json:"openrank"`
	Social      float64 `json:"social_influence"`
	RepoQual    float64 `json:"repo_quality"`
	Activity    float64 `json:"activity"`
	HasOpenRank bool    `json:"has_openrank"`
	Score       float64 `json:"score"`
}

// User returns the scale of a user entity.
func (s *Scorer) User(e *source.Entity) float64 {
	if e == nil || e.User == nil {
		return Floor
	}
	return clamp(Floor+s.UserComponents(e).Score*20, Floor, UserCeiling)
}

// UserComponents exposes the weighted inputs to User.
func (s *Scorer) UserComponents(e *source.Entity) UserBreakdown {
	var b UserBreakdown
	if e == nil || e.User == nil {
		return b
	}

	b.Social = unit(logRatio(e.User.Followers, 10000))

	if n := len(e.Repos); n > 0 {
		var stars, forks, recent int
		cutoff := s.now().Add(-activeWindow)
		for _, r := range e.Repos {
			stars += r.Stars
			forks += r.Forks
			if r.UpdatedAt.After(cutoff) || r.PushedAt.After(cutoff) {
				recent++
			}
		}
		avgStars := float64(stars) / float64(n)
		avgForks := float64(forks) / float64(n)
		b.RepoQual = unit((math.Log(avgStars+1)/math.Log(1000) + math.Log(avgForks+1)/math.Log(500)) / 2)

		count := max(n, e.User.PublicRepos)
		b.Activity = unit(logRatio(count, 100)) * float64(recent) / float64(n)
	}

	if e.HasOpenRank() {
		b.HasOpenRank = true
		b.OpenRank = unit(*e.OpenRank / 10)
		b.Score = 0.4*b.OpenRank + 0.3*b.Social + 0.15*b.RepoQual + 0.15*b.Activity
	} else {
		b.Score = 0.4*b.Social + 0.4*b.RepoQual + 0.2*b.Activity
	}
	return b
}

// RepoBreakdown holds the normalized components of a repository score.
type RepoBreakdown struct {
	OpenRank    float64 `json:"openrank"`
	Popularity  float64 `json:"popularity"`
	Quality     float64 `json:"quality"`
	Activity    float64 `json:"activity"`
	HasOpenRank bool    `json:"has_openrank"`
	Score       float64 `json:"score"`
}

// Repo returns the scale of a repository entity.
func (s *Scorer) Repo(e *source.Entity) float64 {
	if e == nil || e.Repo == nil {
		return Floor
	}
	return clamp(Floor+s.RepoComponents(e).Score*16, Floor, RepoCeiling)
}

// RepoComponents exposes the weighted inputs to Repo.
func (s *Scorer) RepoComponents(e *source.Entity) RepoBreakdown {
	var b RepoBreakdown
	if e == nil || e.Repo == nil {
		return b
	}
	r := e.Repo

	b.Popularity = unit(0.7*logRatio(r.Stars, 10000) + 0.3*logRatio(r.Forks, 1000))
	b.Quality = unit((logRatio(r.Watchers, 1000) + logRatio(e.Activity.Contributors, 100)) / 2)

	switch {
	case e.Activity.TotalIssues > 0:
		b.Activity = unit(float64(e.Activity.RecentIssues) / float64(e.Activity.TotalIssues))
	default:
		pushed := e.Activity.PushedAt
		if pushed.IsZero() {
			pushed = r.PushedAt
		}
		if !pushed.IsZero() && pushed.After(s.now().Add(-activeWindow)) {
			b.Activity = 1
		}
	}

	if e.HasOpenRank() {
		b.HasOpenRank = true
		b.OpenRank = math.Pow(unit(*e.OpenRank/20), 0.8)
		b.Score = unit(math.Pow(0.3*b.OpenRank+0.3*b.Popularity+0.2*b.Quality+0.2*b.Activity, 1.2))
	} else {
		b.Score = 0.4*b.Popularity + 0.3*b.Activity + 0.3*b.Quality
	}
	return b
}

// IsNewcomer reports whether a user has no repositories to judge them by.
func IsNewcomer(e *source.Entity) bool {
	if e == nil || e.User == nil {
		return true
	}
	return len(e.Repos) == 0 && e.User.PublicRepos == 0
}

// Level labels a scale value.
func Level(scale float64) string {
	switch {
	case scale >= 35:
		return "expert"
	case scale >= 30:
		return "senior"
	case scale >= 25:
		return "intermediate"
	}
	return "junior"
}

// logRatio is ln(n+1)/ln(base), the log-normalization used by every component.
func logRatio(n, base int) float64 {
	if n <= 0 {
		return 0
	}
	return math.Log(float64(n)+1) / math.Log(float64(base))
}

func unit(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
