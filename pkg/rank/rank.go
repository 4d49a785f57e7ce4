// Package rank sorts scored candidates into the mentor, peer and floating
// rings of a recommendation graph.
package rank

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/elonfeng/openchain/pkg/source"
)

// NodeType is a node's ring in the graph.
type NodeType string

const (
	Center   NodeType = "center"
	Mentor   NodeType = "mentor"
	Peer     NodeType = "peer"
	Floating NodeType = "floating"
)

// Similarity thresholds for the mentor and peer rings.
const (
	MentorThreshold = 0.7
	PeerThreshold   = 0.4
)

// Classify assigns a ring from similarity alone. Scale only breaks ties
// in ordering; it never moves a candidate between rings.
func Classify(similarity float64) NodeType {
	switch {
	case similarity >= MentorThreshold:
		return Mentor
	case similarity >= PeerThreshold:
		return Peer
	}
	return Floating
}

// Bounds is an inclusive count range.
type Bounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// TierBounds holds the count range of each ring.
type TierBounds struct {
	Mentor   Bounds `json:"mentor"`
	Peer     Bounds `json:"peer"`
	Floating Bounds `json:"floating"`
}

// BoundsFor returns ring sizes for a pair. User-to-user graphs are denser.
func BoundsFor(pair source.Pair) TierBounds {
	if pair.Subject == source.KindUser && pair.Find == source.KindUser {
		return TierBounds{
			Mentor:   Bounds{Min: 6, Max: 10},
			Peer:     Bounds{Min: 9, Max: 15},
			Floating: Bounds{Min: 10, Max: 20},
		}
	}
	return TierBounds{
		Mentor:   Bounds{Min: 3, Max: 5},
		Peer:     Bounds{Min: 4, Max: 7},
		Floating: Bounds{Min: 6, Max: 12},
	}
}

// MaxNodes is the largest number of non-center nodes a pair can produce.
func (b TierBounds) MaxNodes() int { return b.Mentor.Max + b.Peer.Max + b.Floating.Max }

// Candidate is a scored entity awaiting a ring.
type Candidate struct {
	ID         string
	Kind       source.Kind
	Similarity float64
	Scale      float64
	Metrics    map[string]any
}

// Node is a placed candidate.
type Node struct {
	ID         string         `json:"id"`
	Kind       source.Kind    `json:"type"`
	NodeType   NodeType       `json:"nodeType"`
	Similarity float64        `json:"similarity"`
	Scale      float64        `json:"scale"`
	Metrics    map[string]any `json:"metrics,omitempty"`
}

// Shuffler permutes n elements. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Ranker places candidates. Safe for concurrent use.
type Ranker struct {
	mu      sync.Mutex
	shuffle Shuffler
}

// NewRanker creates a ranker. A nil shuffler is seeded randomly.
func NewRanker(s Shuffler) *Ranker {
	if s == nil {
		s = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Ranker{shuffle: s}
}

// ClassifyAndRank orders candidates by similarity, cuts them into rings
// that respect BoundsFor(pair), and returns mentors, then peers, then a
// shuffled floating ring. A ring above its maximum pushes its weakest
// members down; a ring below its minimum pulls the strongest members of
// the rings below it up. count > 0 caps the total, dropping floating
// nodes first.
func (r *Ranker) ClassifyAndRank(cands []Candidate, pair source.Pair, subjectScale float64, count int) []Node {
	sorted := dedupe(cands)
	slices.SortFunc(sorted, func(a, b Candidate) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Scale-subjectScale, a.Scale-subjectScale); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	var natMentor, natCore int
	for _, c := range sorted {
		switch Classify(c.Similarity) {
		case Mentor:
			natMentor++
			natCore++
		case Peer:
			natCore++
		}
	}

	b := BoundsFor(pair)
	n := len(sorted)
	mentors := min(clamp(natMentor, b.Mentor), n)
	peers := min(clamp(max(natCore-mentors, 0), b.Peer), n-mentors)

	nodes := make([]Node, 0, n)
	for i, c := range sorted[:mentors+peers] {
		t := Peer
		if i < mentors {
			t = Mentor
		}
		nodes = append(nodes, toNode(c, t))
	}

	floating := slices.Clone(sorted[mentors+peers:])
	r.mu.Lock()
	r.shuffle.Shuffle(len(floating), func(i, j int) { floating[i], floating[j] = floating[j], floating[i] })
	r.mu.Unlock()
	if len(floating) > b.Floating.Max {
		floating = floating[:b.Floating.Max]
	}
	for _, c := range floating {
		nodes = append(nodes, toNode(c, Floating))
	}

	if count > 0 && len(nodes) > count {
		nodes = nodes[:count]
	}
	return nodes
}

func toNode(c Candidate, t NodeType) Node {
	return Node{
		ID:         c.ID,
		Kind:       c.Kind,
		NodeType:   t,
		Similarity: c.Similarity,
		Scale:      c.Scale,
		Metrics:    c.Metrics,
	}
}

// dedupe keeps the most similar entry per case-folded id.
func dedupe(cands []Candidate) []Candidate {
	best := make(map[string]int, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		key := strings.ToLower(c.ID)
		if i, ok := best[key]; ok {
			if c.Similarity > out[i].Similarity {
				out[i] = c
			}
			continue
		}
		best[key] = len(out)
		out = append(out, c)
	}
	return out
}

func clamp(v int, b Bounds) int {
	return max(b.Min, min(b.Max, v))
}
