package recommend

import (
	"github.com/elonfeng/openchain/pkg/rank"
	"github.com/elonfeng/openchain/pkg/scale"
	"github.com/elonfeng/openchain/pkg/source"
)

// Graph is the response shape the visualization consumes.
type Graph struct {
	Nodes  []rank.Node `json:"nodes"`
	Links  []Link      `json:"links"`
	Center CenterRef   `json:"center"`
}

// Link joins the center to one recommended node. Type is set only on
// analysis graphs.
type Link struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Value  float64  `json:"value"`
	Type   LinkType `json:"type,omitempty"`
}

// CenterRef identifies the subject.
type CenterRef struct {
	ID   string      `json:"id"`
	Kind source.Kind `json:"type"`
}

// newGraph puts the subject first as the only center node and links it to every other node.
func newGraph(subject *source.Entity, subjectScale float64, nodes []rank.Node) *Graph {
	g := &Graph{
		Nodes:  make([]rank.Node, 0, len(nodes)+1),
		Links:  make([]Link, 0, len(nodes)),
		Center: CenterRef{ID: subject.ID, Kind: subject.Kind},
	}
	g.Nodes = append(g.Nodes, rank.Node{
		ID:         subject.ID,
		Kind:       subject.Kind,
		NodeType:   rank.Center,
		Similarity: 1,
		Scale:      subjectScale,
		Metrics:    entityMetrics(subject, subjectScale),
	})
	for _, n := range nodes {
		g.Nodes = append(g.Nodes, n)
		g.Links = append(g.Links, Link{Source: subject.ID, Target: n.ID, Value: n.Similarity})
	}
	return g
}

// entityMetrics exposes the raw numbers behind a node for display.
func entityMetrics(e *source.Entity, scaleValue float64) map[string]any {
	m := map[string]any{}
	switch {
	case e.User != nil:
		m["followers"] = e.User.Followers
		m["following"] = e.User.Following
		m["public_repos"] = e.User.PublicRepos
		if langs := e.Languages(); len(langs) > 0 {
			m["languages"] = langs
		}
	case e.Repo != nil:
		m["stars"] = e.Repo.Stars
		m["forks"] = e.Repo.Forks
		m["watchers"] = e.Repo.Watchers
		if e.Repo.Language != "" {
			m["language"] = e.Repo.Language
		}
		if len(e.Repo.Topics) > 0 {
			m["topics"] = e.Repo.Topics
		}
		if e.Repo.Description != "" {
			m["description"] = e.Repo.Description
		}
	}
	if e.HasOpenRank() {
		m["openrank"] = *e.OpenRank
	}
	m["level"] = scale.Level(scaleValue)
	return m
}
