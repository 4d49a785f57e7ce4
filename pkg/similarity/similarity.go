// Package similarity scores how alike two users, two repositories, or a
// user and a repository are. Every score is in [0,1].
package similarity

import (
	"math"
	"strings"

	"github.com/elonfeng/openchain/pkg/source"
)

// Weights for each pair kind. The published algorithm notes describe
// user-user as 30/30/40 over language/topic/activity; the weights below
// are the ones the ranking was tuned with and are authoritative.
const (
	userLangWeight  = 0.2
	userTopicWeight = 0.3
	userSizeWeight  = 0.5

	repoLangWeight  = 0.3
	repoTopicWeight = 0.4
	repoSizeWeight  = 0.3

	crossLangWeight     = 0.3
	crossTopicWeight    = 0.3
	crossActivityWeight = 0.4
	crossFloor          = 0.1

	// logDistanceScale is the ln-distance at which magnitude similarity reaches 0.
	logDistanceScale = 10.0
)

// Between dispatches on the kinds of a and b. For a repository and a user
// the user-repo score is used in either order.
func Between(a, b *source.Entity) float64 {
	if a == nil || b == nil {
		return 0
	}
	switch {
	case a.Kind == source.KindUser && b.Kind == source.KindUser:
		return UserUser(a, b)
	case a.Kind == source.KindRepo && b.Kind == source.KindRepo:
		return RepoRepo(a, b)
	case a.Kind == source.KindUser && b.Kind == source.KindRepo:
		return UserRepo(a, b)
	case a.Kind == source.KindRepo && b.Kind == source.KindUser:
		return UserRepo(b, a)
	}
	return 0
}

// UserUser compares two users by the languages and topics of their
// repositories and by their total code size. Users without repositories
// have nothing to compare and score 0.
func UserUser(a, b *source.Entity) float64 {
	if a == nil || b == nil || len(a.Repos) == 0 || len(b.Repos) == 0 {
		return 0
	}

	lang := Jaccard(a.Languages(), b.Languages())
	topic := Jaccard(a.Topics(), b.Topics())

	sa, sb := totalSize(a.Repos), totalSize(b.Repos)
	size := 1 - math.Abs(sa-sb)/math.Max(sa+sb, 1)

	return unit(userLangWeight*lang + userTopicWeight*topic + userSizeWeight*size)
}

// RepoRepo compares two repositories by primary language, topics and
// order of magnitude of stars and size. When neither has topics the
// description words stand in for them.
func RepoRepo(a, b *source.Entity) float64 {
	if a == nil || b == nil || a.Repo == nil || b.Repo == nil {
		return 0
	}
	ra, rb := a.Repo, b.Repo

	var lang float64
	if ra.Language != "" && strings.EqualFold(ra.Language, rb.Language) {
		lang = 1
	}

	var topic float64
	if len(ra.Topics) == 0 && len(rb.Topics) == 0 {
		topic = Jaccard(significantTokens(ra.Description), significantTokens(rb.Description))
	} else {
		topic = Jaccard(ra.Topics, rb.Topics)
	}

	starDist := math.Abs(math.Log(float64(ra.Stars)+1) - math.Log(float64(rb.Stars)+1))
	sizeDist := math.Abs(math.Log(float64(ra.Size)+1) - math.Log(float64(rb.Size)+1))
	magnitude := 1 - math.Min((starDist+sizeDist)/2/logDistanceScale, 1)

	return unit(repoLangWeight*lang + repoTopicWeight*topic + repoSizeWeight*magnitude)
}

// UserRepo scores how well repository r fits user u: the share of u's
// repositories written in r's language, topic overlap, and whether u's
// activity level matches r's popularity. Never below 0.1.
func UserRepo(u, r *source.Entity) float64 {
	if u == nil || r == nil || r.Repo == nil {
		return crossFloor
	}
	repo := r.Repo

	var langShare float64
	if n := len(u.Repos); n > 0 && repo.Language != "" {
		matching := 0
		for _, ur := range u.Repos {
			if strings.EqualFold(ur.Language, repo.Language) {
				matching++
			}
		}
		langShare = float64(matching) / float64(n)
	}

	topic := Jaccard(u.Topics(), repo.Topics)

	userLevel := math.Min(1, math.Log(float64(len(u.Repos))+1)/math.Log(100))
	repoLevel := math.Min(1, math.Log(float64(repo.Stars+repo.Forks)+1)/math.Log(100000))
	activity := 1 - math.Abs(userLevel-repoLevel)

	score := crossLangWeight*langShare + crossTopicWeight*topic + crossActivityWeight*activity
	return unit(math.Max(score, crossFloor))
}

func totalSize(repos []source.Repo) float64 {
	var total float64
	for _, r := range repos {
		total += float64(r.Size)
	}
	return total
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
