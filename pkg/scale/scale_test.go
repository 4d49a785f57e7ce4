package scale

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/openchain/pkg/source"
)

var testNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func activeRepos(n, stars, forks int) []source.Repo {
	repos := make([]source.Repo, n)
	for i := range repos {
		repos[i] = source.Repo{
			FullName:  fmt.Sprintf("u/r%d", i),
			Stars:     stars,
			Forks:     forks,
			UpdatedAt: testNow.Add(-30 * 24 * time.Hour),
		}
	}
	return repos
}

func TestUserUpperQuartile(t *testing.T) {
	s := NewAt(testNow)
	e := &source.Entity{
		Kind:     source.KindUser,
		ID:       "prolific",
		User:     &source.User{Login: "prolific", Followers: 5000, PublicRepos: 50},
		Repos:    activeRepos(50, 100, 20),
		OpenRank: ptr(8.0),
	}

	got := s.User(e)
	assert.GreaterOrEqual(t, got, 35.0)
	assert.LessOrEqual(t, got, UserCeiling)
	assert.Equal(t, "expert", Level(got))
}

func TestNewcomerFloorsNearTwenty(t *testing.T) {
	s := NewAt(testNow)
	e := &source.Entity{
		Kind: source.KindUser,
		ID:   "fresh",
		User: &source.User{Login: "fresh", Followers: 2},
	}

	require.True(t, IsNewcomer(e))
	got := s.User(e)
	assert.InDelta(t, 20.0, got, 1.0)
	assert.Equal(t, "junior", Level(got))
}

func TestUserWithoutOpenRankUsesTraditionalWeights(t *testing.T) {
	s := NewAt(testNow)
	e := &source.Entity{
		Kind:  source.KindUser,
		User:  &source.User{Followers: 9999},
		Repos: activeRepos(99, 999, 499),
	}

	b := s.UserComponents(e)
	assert.False(t, b.HasOpenRank)
	assert.InDelta(t, 1.0, b.Social, 1e-9)
	assert.InDelta(t, 1.0, b.RepoQual, 1e-9)
	assert.InDelta(t, 1.0, b.Activity, 1e-9)
	assert.InDelta(t, 40.0, s.User(e), 1e-9)
}

func TestUserStaleReposLowerActivity(t *testing.T) {
	s := NewAt(testNow)
	repos := activeRepos(10, 5, 1)
	for i := range 5 {
		repos[i].UpdatedAt = testNow.Add(-2 * 365 * 24 * time.Hour)
	}
	e := &source.Entity{Kind: source.KindUser, User: &source.User{}, Repos: repos}

	b := s.UserComponents(e)
	full := logRatio(10, 100)
	assert.InDelta(t, full*0.5, b.Activity, 1e-9)
}

func TestRepoWithOpenRank(t *testing.T) {
	s := NewAt(testNow)
	e := &source.Entity{
		Kind: source.KindRepo,
		Repo: &source.Repo{FullName: "golang/go", Stars: 120000, Forks: 17000, Watchers: 3400},
		Activity: source.Activity{
			TotalIssues: 100, RecentIssues: 80, Contributors: 100,
		},
		OpenRank: ptr(60),
	}

	b := s.RepoComponents(e)
	assert.InDelta(t, 1.0, b.OpenRank, 1e-9)
	assert.InDelta(t, 1.0, b.Popularity, 1e-9)
	assert.InDelta(t, 0.8, b.Activity, 1e-9)

	got := s.Repo(e)
	assert.Greater(t, got, 34.0)
	assert.LessOrEqual(t, got, RepoCeiling)
}

func TestRepoActivityFallsBackToPushDate(t *testing.T) {
	s := NewAt(testNow)
	fresh := &source.Entity{
		Kind:     source.KindRepo,
		Repo:     &source.Repo{Stars: 10},
		Activity: source.Activity{PushedAt: testNow.Add(-10 * 24 * time.Hour)},
	}
	stale := &source.Entity{
		Kind:     source.KindRepo,
		Repo:     &source.Repo{Stars: 10},
		Activity: source.Activity{PushedAt: testNow.Add(-400 * 24 * time.Hour)},
	}

	assert.Equal(t, 1.0, s.RepoComponents(fresh).Activity)
	assert.Equal(t, 0.0, s.RepoComponents(stale).Activity)
	assert.Greater(t, s.Repo(fresh), s.Repo(stale))
}

func TestMissingDataScoresFloor(t *testing.T) {
	s := NewAt(testNow)
	assert.Equal(t, Floor, s.Of(nil))
	assert.Equal(t, Floor, s.User(&source.Entity{Kind: source.KindUser}))
	assert.Equal(t, Floor, s.Repo(&source.Entity{Kind: source.KindRepo}))
	assert.Equal(t, Floor, s.Of(&source.Entity{Kind: "org"}))
}

func TestScaleRange(t *testing.T) {
	s := NewAt(testNow)
	rng := rand.New(rand.NewPCG(1, 2))

	for range 500 {
		var or *float64
		if rng.IntN(2) == 0 {
			or = ptr(rng.Float64() * 10)
		}
		n := rng.IntN(40)
		repos := make([]source.Repo, n)
		for i := range repos {
			repos[i] = source.Repo{
				Stars:     rng.IntN(1_000_000),
				Forks:     rng.IntN(100_000),
				UpdatedAt: testNow.Add(-time.Duration(rng.IntN(1000)) * 24 * time.Hour),
			}
		}
		user := &source.Entity{
			Kind:     source.KindUser,
			User:     &source.User{Followers: rng.IntN(10_000_000), PublicRepos: rng.IntN(10_000)},
			Repos:    repos,
			OpenRank: or,
		}
		us := s.Of(user)
		assert.GreaterOrEqual(t, us, Floor)
		assert.LessOrEqual(t, us, UserCeiling)

		total := rng.IntN(500)
		repo := &source.Entity{
			Kind: source.KindRepo,
			Repo: &source.Repo{
				Stars:    rng.IntN(10_000_000),
				Forks:    rng.IntN(1_000_000),
				Watchers: rng.IntN(100_000),
			},
			Activity: source.Activity{
				TotalIssues:  total,
				RecentIssues: rng.IntN(total + 1),
				Contributors: rng.IntN(5000),
			},
			OpenRank: or,
		}
		rs := s.Of(repo)
		assert.GreaterOrEqual(t, rs, Floor)
		assert.LessOrEqual(t, rs, RepoCeiling)
	}
}

func TestLevel(t *testing.T) {
	assert.Equal(t, "junior", Level(20))
	assert.Equal(t, "intermediate", Level(25))
	assert.Equal(t, "senior", Level(32.5))
	assert.Equal(t, "expert", Level(40))
}
