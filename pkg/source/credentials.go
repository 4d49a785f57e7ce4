package source

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/elonfeng/openchain/internal/metrics"
)

var tokenPrefixes = []string{"ghp_", "gho_", "ghu_", "ghs_", "ghr_", "github_pat_"}

// ValidToken reports whether tok looks like a GitHub token.
func ValidToken(tok string) bool {
	for _, p := range tokenPrefixes {
		if strings.HasPrefix(tok, p) && len(tok) > len(p) {
			return true
		}
	}
	return false
}

// Credential is one API token with its own client-side rate limiter.
type Credential struct {
	Token   string
	limiter *rate.Limiter
}

// CredentialPool hands out tokens round-robin and skips the ones
// that are rate limited until their reset time.
type CredentialPool struct {
	mu      sync.Mutex
	creds   []*Credential
	next    int
	blocked map[string]time.Time
	now     func() time.Time
}

// NewCredentialPool validates tokens and builds a pool. Invalid and
// duplicate tokens are dropped; a pool with no valid token is an error.
func NewCredentialPool(tokens []string, rps float64, burst int) (*CredentialPool, error) {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 10
	}

	seen := make(map[string]bool)
	var creds []*Credential
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if !ValidToken(tok) || seen[tok] {
			continue
		}
		seen[tok] = true
		creds = append(creds, &Credential{
			Token:   tok,
			limiter: rate.NewLimiter(rate.Limit(rps), burst),
		})
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("no valid github token (expected prefix one of %s)", strings.Join(tokenPrefixes, ", "))
	}

	return &CredentialPool{
		creds:   creds,
		blocked: make(map[string]time.Time),
		now:     time.Now,
	}, nil
}

// Len returns the number of configured credentials.
func (p *CredentialPool) Len() int { return len(p.creds) }

// Available returns how many credentials are not currently blocked.
func (p *CredentialPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	now := p.now()
	for _, c := range p.creds {
		if until, ok := p.blocked[c.Token]; !ok || !now.Before(until) {
			n++
		}
	}
	return n
}

// Acquire returns the next usable credential, waiting on its limiter.
// It fails with ErrRateLimitExceeded when every credential is blocked.
func (p *CredentialPool) Acquire(ctx context.Context) (*Credential, error) {
	cred, err := p.pick()
	if err != nil {
		return nil, err
	}
	if err := cred.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}
	return cred, nil
}

func (p *CredentialPool) pick() (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for range len(p.creds) {
		c := p.creds[p.next]
		p.next = (p.next + 1) % len(p.creds)

		until, ok := p.blocked[c.Token]
		if ok && now.Before(until) {
			continue
		}
		delete(p.blocked, c.Token)
		return c, nil
	}
	return nil, ErrRateLimitExceeded
}

// Release reports the quota left on cred after a response. A credential
// with nothing left is blocked until reset; -1 means the quota is unknown.
func (p *CredentialPool) Release(cred *Credential, remaining int, reset time.Time) {
	if remaining != 0 || reset.IsZero() {
		return
	}
	p.Invalidate(cred.Token, reset)
}

// Invalidate blocks token until the given time.
func (p *CredentialPool) Invalidate(token string, until time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.blocked[token]; ok && cur.After(until) {
		return
	}
	p.blocked[token] = until
	metrics.CredentialRotations.Inc()
}
