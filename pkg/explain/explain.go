// Package explain describes how recommendations are computed, either with
// fixed method notes or with a language model for one specific pair.
package explain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownTopic is returned for a topic or mode with no explanation.
var ErrUnknownTopic = errors.New("unknown explanation topic")

const scaleUser = `User scale

Inputs: followers f, public repositories R with stars s, forks k and last
update t, and the OpenRank value OR when OpenDigger has one.

  SI = min(1, ln(f+1) / ln(10000))                  social influence
  RQ = min(1, (ln(avg s+1)/ln(1000) + ln(avg k+1)/ln(500)) / 2)
  AS = min(1, ln(|R|+1)/ln(100)) * share of R updated within a year

With OpenRank:    score = 0.4*min(1, OR/10) + 0.3*SI + 0.15*RQ + 0.15*AS
Without OpenRank: score = 0.4*SI + 0.4*RQ + 0.2*AS

scale = 20 + 20*score, in [20, 40].
Levels: [20,25) junior, [25,30) intermediate, [30,35) senior, [35,40] expert.
A user with no repositories is a newcomer and scores close to 20.`

const scaleRepo = `Repository scale

Inputs: stars, forks, watchers, contributor count, issues opened in the
last 30 days against all issues, last push time, and OpenRank when present.

  P = min(1, 0.7*ln(stars+1)/ln(10000) + 0.3*ln(forks+1)/ln(1000))   popularity
  Q = min(1, (ln(watchers+1)/ln(1000) + ln(contributors+1)/ln(100)) / 2)
  A = recent issues / all issues, or 1 when there are no issues and the
      last push is within a year, else 0

With OpenRank:    O = min(1, OR/20)^0.8
                  score = min(1, (0.3*O + 0.3*P + 0.2*Q + 0.2*A)^1.2)
Without OpenRank: score = 0.4*P + 0.3*A + 0.3*Q

scale = 20 + 16*score, in [20, 36].`

const similarityUserUser = `User to user similarity

  L = Jaccard overlap of the languages used across each user's repositories
  T = Jaccard overlap of their repository topics
  S = 1 - |size_a - size_b| / (size_a + size_b), sizes summed over repositories

similarity = 0.2*L + 0.3*T + 0.5*S, clamped to [0, 1].
Either user having no repositories gives 0.`

const similarityRepoRepo = `Repository to repository similarity

  L = 1 when both primary languages match, else 0
  T = Jaccard overlap of topics; when neither repository has topics the
      significant words of the two descriptions are compared instead
  M = 1 - min(1, (|ln stars_a - ln stars_b| + |ln size_a - ln size_b|) / 20)

similarity = 0.3*L + 0.4*T + 0.3*M, clamped to [0, 1].`

const similarityUserRepo = `User to repository similarity

  L = share of the user's repositories written in the repository's language
  T = Jaccard overlap of the user's topics and the repository's topics
  A = 1 - |min(1, ln(repos+1)/ln(100)) - min(1, ln(stars+forks+1)/ln(100000))|

similarity = max(0.1, 0.3*L + 0.3*T + 0.4*A).
The same score is used in both directions.`

const poolUserUser = `Candidate pool for users similar to a user

Pool size = clamp(100 + 5*(scale-20), 100, 200).
  Direct (50%):   followers, plus contributors of up to 5 starred repositories
  Search (30%):   users searched by the subject's two most used languages
  Trending (20%): globally active users
Users the subject already follows and the subject are excluded. A tier that
comes up short hands its unused quota to the next one. Oversized tiers are
sampled.`

const poolUserRepo = `Candidate pool for repositories for a user

Pool size = clamp(60 + 2*(scale-20), 60, 100).
  Direct (50%):   starred repositories and repositories in the main language
  Search (30%):   repositories searched by the subject's top three topics
  Trending (20%): trending repositories
The user's own repositories are excluded.`

const poolRepoUser = `Candidate pool for users for a repository

Pool size = clamp(40 + 2.5*(scale-20), 40, 80).
  Direct (50%):   contributors
  Search (30%):   contributors of up to 5 repositories in the same language
  Trending (20%): globally active users`

const poolRepoRepo = `Candidate pool for repositories similar to a repository

Pool size = clamp(40 + 2.5*(scale-20), 40, 80).
  Direct (50%):   other repositories of the same owner
  Search (30%):   repositories sharing up to three topics or the language
  Trending (20%): trending repositories
When every tier is empty a configured list of well known repositories or
users is used before giving up.`

const nodeUserUser = `Node types for user recommendations

Candidates are sorted by similarity, ties broken by larger scale.
  mentor   similarity >= 0.7, kept between 6 and 10
  peer     0.4 <= similarity < 0.7, kept between 9 and 15
  floating similarity < 0.4, shuffled, at most 20
Mentors and peers together stay between 15 and 25 when enough candidates
exist: the strongest floating candidates are promoted to fill the minimum
and surplus mentors are demoted to peers.`

const nodeRepo = `Node types for repository recommendations

Same rule as for users with smaller bounds:
  mentor   similarity >= 0.7, between 3 and 5
  peer     0.4 <= similarity < 0.7, between 4 and 7
  floating similarity < 0.4, shuffled, at most 12`

const recommendOverview = `Recommendation pipeline

1. Load the subject and compute its scale.
2. Build a candidate pool sized by that scale from direct relations,
   attribute searches and trending lists.
3. Load every candidate concurrently and score similarity and scale.
   Candidates that fail to load are skipped.
4. Classify into mentor, peer and floating nodes and trim to the bounds.
5. Return a graph with the subject as the only center node linked to
   every recommended node, the link value being the similarity.`

var algorithms = map[string]map[string]string{
	"scale": {
		"user": scaleUser,
		"repo": scaleRepo,
	},
	"similarity": {
		"user-user": similarityUserUser,
		"repo-repo": similarityRepoRepo,
		"user-repo": similarityUserRepo,
		"repo-user": similarityUserRepo,
	},
	"pool": {
		"user-user": poolUserUser,
		"user-repo": poolUserRepo,
		"repo-user": poolRepoUser,
		"repo-repo": poolRepoRepo,
	},
	"node": {
		"user-user": nodeUserUser,
		"user-repo": nodeRepo,
		"repo-user": nodeRepo,
		"repo-repo": nodeRepo,
	},
	"recommend": {
		"": recommendOverview,
	},
}

// Algorithm returns the method note for topic and mode, e.g. ("scale", "user")
// or ("similarity", "user-repo"). Lookups ignore case.
func Algorithm(topic, mode string) (string, error) {
	modes, ok := algorithms[strings.ToLower(strings.TrimSpace(topic))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	text, ok := modes[strings.ToLower(strings.TrimSpace(mode))]
	if !ok && len(modes) == 1 {
		text, ok = modes[""]
	}
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownTopic, topic, mode)
	}
	return text, nil
}

// Topics lists every topic with its modes, sorted.
func Topics() map[string][]string {
	out := make(map[string][]string, len(algorithms))
	for topic, modes := range algorithms {
		var names []string
		for m := range modes {
			if m != "" {
				names = append(names, m)
			}
		}
		slices.Sort(names)
		out[topic] = names
	}
	return out
}
