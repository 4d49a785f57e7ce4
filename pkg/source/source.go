package source

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies which GitHub object an id names.
type Kind string

const (
	KindUser Kind = "user"
	KindRepo Kind = "repo"
)

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindUser, KindRepo:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// Pair is a subject kind and the kind of entity being recommended for it.
type Pair struct {
	Subject Kind
	Find    Kind
}

func (p Pair) String() string { return string(p.Subject) + "-" + string(p.Find) }

var (
	// ErrNotFound means the upstream has no such user or repository.
	ErrNotFound = errors.New("not found")
	// ErrRateLimitExceeded means every credential is exhausted for now.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// TransientError wraps a failure that survived every retry attempt.
type TransientError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// User is a GitHub account profile.
type User struct {
	Login       string    `json:"login"`
	Name        string    `json:"name"`
	Bio         string    `json:"bio"`
	Company     string    `json:"company"`
	Location    string    `json:"location"`
	Followers   int       `json:"followers"`
	Following   int       `json:"following"`
	PublicRepos int       `json:"public_repos"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Repo is a GitHub repository.
type Repo struct {
	FullName    string    `json:"full_name"`
	Owner       Owner     `json:"owner"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	Topics      []string  `json:"topics"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	Watchers    int       `json:"subscribers_count"`
	Size        int       `json:"size"`
	OpenIssues  int       `json:"open_issues_count"`
	Fork        bool      `json:"fork"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PushedAt    time.Time `json:"pushed_at"`
}

// Owner is the account a repository belongs to.
type Owner struct {
	Login string `json:"login"`
}

// Activity summarizes recent work on a repository.
type Activity struct {
	TotalIssues  int       `json:"total_issues"`
	RecentIssues int       `json:"recent_issues"`
	Contributors int       `json:"contributors"`
	PushedAt     time.Time `json:"pushed_at"`
}

// Entity is everything scoring and similarity need to know about one user or repository.
type Entity struct {
	Kind     Kind
	ID       string
	User     *User
	Repo     *Repo
	Repos    []Repo // owned repositories, users only
	Activity Activity
	OpenRank *float64
}

// HasOpenRank reports whether an influence score was available.
func (e *Entity) HasOpenRank() bool { return e != nil && e.OpenRank != nil }

// Languages returns the distinct primary languages of a user's repositories.
func (e *Entity) Languages() []string {
	seen := make(map[string]bool)
	var langs []string
	for _, r := range e.Repos {
		if r.Language != "" && !seen[r.Language] {
			seen[r.Language] = true
			langs = append(langs, r.Language)
		}
	}
	return langs
}

// Topics returns the distinct topics across a user's repositories, or a repository's own topics.
func (e *Entity) Topics() []string {
	if e.Kind == KindRepo {
		if e.Repo == nil {
			return nil
		}
		return e.Repo.Topics
	}
	seen := make(map[string]bool)
	var topics []string
	for _, r := range e.Repos {
		for _, t := range r.Topics {
			if !seen[t] {
				seen[t] = true
				topics = append(topics, t)
			}
		}
	}
	return topics
}
