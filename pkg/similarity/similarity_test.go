package similarity

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/elonfeng/openchain/pkg/source"
)

func user(repos ...source.Repo) *source.Entity {
	return &source.Entity{Kind: source.KindUser, User: &source.User{}, Repos: repos}
}

func repo(r source.Repo) *source.Entity {
	return &source.Entity{Kind: source.KindRepo, ID: r.FullName, Repo: &r}
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 0.0, Jaccard(nil, []string{"go"}))
	assert.Equal(t, 1.0, Jaccard([]string{"Go", "rust"}, []string{"go", "Rust"}))
	assert.InDelta(t, 1.0/3.0, Jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
}

func TestSignificantTokens(t *testing.T) {
	assert.Equal(t,
		[]string{"fast", "http", "router", "go", "go"},
		significantTokens("A fast HTTP router for Go, written in Go? x"))
}

func TestUserUserWeights(t *testing.T) {
	a := user(source.Repo{Language: "Go", Topics: []string{"cli"}, Size: 100})
	b := user(source.Repo{Language: "Rust", Topics: []string{"wasm"}, Size: 100})

	// Disjoint languages and topics leave only the size term, which is the
	// 0.5 weight; a 30/30/40 split would give 0.4 here.
	assert.InDelta(t, 0.5, UserUser(a, b), 1e-9)
	assert.InDelta(t, 1.0, UserUser(a, a), 1e-9)
}

func TestSelfSimilarity(t *testing.T) {
	withTopics := user(
		source.Repo{Language: "Go", Topics: []string{"cli", "web"}, Size: 100},
		source.Repo{Language: "Rust", Topics: []string{"db"}, Size: 300},
	)
	noTopics := user(
		source.Repo{Language: "Go", Size: 100},
		source.Repo{Language: "Rust", Size: 300},
	)
	tagged := repo(source.Repo{FullName: "a/tagged", Language: "Go", Topics: []string{"http"}, Stars: 1200, Size: 800})
	described := repo(source.Repo{FullName: "a/described", Language: "Go", Description: "Fast HTTP router", Stars: 40, Size: 90})
	bare := repo(source.Repo{FullName: "a/bare", Language: "Go", Stars: 40, Size: 90})

	cases := []struct {
		name string
		got  float64
		want float64
	}{
		// language 0.2 + topics 0.3 + size 0.5
		{"user with topics", UserUser(withTopics, withTopics), 1.0},
		{"user without topics", UserUser(noTopics, noTopics), 0.7},
		// language 0.3 + topics 0.4 + magnitude 0.3
		{"repo with topics", RepoRepo(tagged, tagged), 1.0},
		{"repo with description only", RepoRepo(described, described), 1.0},
		{"repo with neither", RepoRepo(bare, bare), 0.6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, tc.got, 1e-9)
		})
	}

	assert.GreaterOrEqual(t, UserUser(withTopics, withTopics), 0.99)
	assert.GreaterOrEqual(t, RepoRepo(tagged, tagged), 0.99)

	other := user(source.Repo{Language: "Go", Topics: []string{"cli"}, Size: 900})
	assert.Greater(t, UserUser(withTopics, withTopics), UserUser(withTopics, other))
	assert.Greater(t, Between(tagged, tagged), Between(tagged, bare))
}

func TestUserUserWithoutReposIsZero(t *testing.T) {
	a := user(source.Repo{Language: "Go", Size: 10})
	assert.Equal(t, 0.0, UserUser(a, user()))
	assert.Equal(t, 0.0, UserUser(user(), user()))
}

func TestUserUserSizeTerm(t *testing.T) {
	a := user(source.Repo{Size: 300})
	b := user(source.Repo{Size: 100})
	// 1 - |300-100|/400 = 0.5
	assert.InDelta(t, 0.25, UserUser(a, b), 1e-9)
}

func TestRepoRepoStarsTenfold(t *testing.T) {
	a := repo(source.Repo{FullName: "a/a", Language: "Go", Topics: []string{"http", "router"}, Stars: 1000, Size: 500})
	b := repo(source.Repo{FullName: "b/b", Language: "Go", Topics: []string{"router", "http"}, Stars: 10000, Size: 500})

	got := RepoRepo(a, b)
	assert.Greater(t, got, 0.3)
	assert.Less(t, got, 1.0)
	assert.Greater(t, got, 0.7)
}

func TestRepoRepoDescriptionFallback(t *testing.T) {
	a := repo(source.Repo{Description: "Fast HTTP router"})
	b := repo(source.Repo{Description: "Minimal HTTP router"})
	c := repo(source.Repo{Description: "Image processing toolkit"})

	assert.Greater(t, RepoRepo(a, b), RepoRepo(a, c))
}

func TestRepoRepoLanguageMustBeSet(t *testing.T) {
	a := repo(source.Repo{Stars: 5, Size: 5})
	b := repo(source.Repo{Stars: 5, Size: 5})
	assert.InDelta(t, 0.3, RepoRepo(a, b), 1e-9)
}

func TestUserRepoFloor(t *testing.T) {
	u := user()
	r := repo(source.Repo{Language: "Haskell", Stars: 99999})
	assert.GreaterOrEqual(t, UserRepo(u, r), 0.1)
	assert.Equal(t, 0.1, UserRepo(u, &source.Entity{Kind: source.KindRepo}))
}

func TestUserRepoLanguageShare(t *testing.T) {
	u := user(
		source.Repo{Language: "Go"},
		source.Repo{Language: "Go"},
		source.Repo{Language: "Python"},
		source.Repo{Language: "Go"},
	)
	goRepo := repo(source.Repo{Language: "Go"})
	pyRepo := repo(source.Repo{Language: "Python"})
	assert.Greater(t, UserRepo(u, goRepo), UserRepo(u, pyRepo))
}

func TestBetweenIsSymmetricForMixedKinds(t *testing.T) {
	u := user(source.Repo{Language: "Go", Topics: []string{"k8s"}})
	r := repo(source.Repo{Language: "Go", Topics: []string{"k8s"}, Stars: 10})
	assert.Equal(t, Between(u, r), Between(r, u))
	assert.Equal(t, 0.0, Between(nil, r))
}

func TestSimilarityRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	langs := []string{"", "Go", "Rust", "Python"}
	topics := []string{"cli", "web", "ml", "db"}

	randRepo := func() source.Repo {
		var ts []string
		for _, tp := range topics {
			if rng.IntN(2) == 0 {
				ts = append(ts, tp)
			}
		}
		return source.Repo{
			Language: langs[rng.IntN(len(langs))],
			Topics:   ts,
			Stars:    rng.IntN(1_000_000),
			Forks:    rng.IntN(100_000),
			Size:     rng.IntN(10_000_000),
		}
	}
	randUser := func() *source.Entity {
		n := rng.IntN(5)
		repos := make([]source.Repo, n)
		for i := range repos {
			repos[i] = randRepo()
		}
		return user(repos...)
	}

	for range 300 {
		ua, ub := randUser(), randUser()
		ra, rb := repo(randRepo()), repo(randRepo())
		for _, s := range []float64{
			Between(ua, ub), Between(ra, rb), Between(ua, ra), Between(rb, ub),
		} {
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	}
}
