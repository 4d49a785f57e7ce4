package source

import (
	"context"
	"net/url"
	"strings"
)

// sbom is the part of the dependency graph SBOM export that names packages.
type sbom struct {
	SBOM struct {
		Packages []struct {
			Name         string `json:"name"`
			ExternalRefs []struct {
				ReferenceType    string `json:"referenceType"`
				ReferenceLocator string `json:"referenceLocator"`
			} `json:"externalRefs"`
		} `json:"packages"`
	} `json:"sbom"`
}

// dependencies lists the GitHub repositories fullName depends on according
// to its dependency graph. Only packages that resolve to a GitHub repository
// are kept: GitHub Actions, github purls and Go modules under github.com.
func (c *Client) dependencies(ctx context.Context, fullName string) ([]string, error) {
	owner, name, ok := SplitRepo(fullName)
	if !ok {
		return nil, ErrNotFound
	}

	var doc sbom
	path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name) + "/dependency-graph/sbom"
	if err := c.getJSON(ctx, "dependency_graph", path, nil, &doc); err != nil {
		return nil, err
	}

	var ids []string
	seen := map[string]bool{strings.ToLower(fullName): true}
	for _, pkg := range doc.SBOM.Packages {
		for _, ref := range pkg.ExternalRefs {
			if ref.ReferenceType != "purl" {
				continue
			}
			id, ok := repoFromPURL(ref.ReferenceLocator)
			if !ok || seen[strings.ToLower(id)] {
				continue
			}
			seen[strings.ToLower(id)] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// repoFromPURL maps a package URL onto owner/name, e.g.
// pkg:githubactions/actions/checkout@4 or pkg:golang/github.com/spf13/cobra@v1.8.0.
func repoFromPURL(purl string) (string, bool) {
	rest, ok := strings.CutPrefix(purl, "pkg:")
	if !ok {
		return "", false
	}
	if i := strings.IndexAny(rest, "@?#"); i >= 0 {
		rest = rest[:i]
	}
	typ, path, ok := strings.Cut(rest, "/")
	if !ok {
		return "", false
	}

	switch strings.ToLower(typ) {
	case "github", "githubactions":
	case "golang":
		path, ok = strings.CutPrefix(path, "github.com/")
		if !ok {
			return "", false
		}
	default:
		return "", false
	}

	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	owner, err := url.PathUnescape(parts[0])
	if err != nil {
		return "", false
	}
	name, err := url.PathUnescape(parts[1])
	if err != nil {
		return "", false
	}
	return owner + "/" + name, true
}
