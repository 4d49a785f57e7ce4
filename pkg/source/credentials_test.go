package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidToken(t *testing.T) {
	for _, tok := range []string{"ghp_abc", "gho_abc", "ghu_abc", "ghs_abc", "ghr_abc", "github_pat_abc"} {
		assert.True(t, ValidToken(tok), tok)
	}
	for _, tok := range []string{"", "ghp_", "token", "xoxb-123", "GHP_abc"} {
		assert.False(t, ValidToken(tok), tok)
	}
}

func TestNewCredentialPoolRejectsEmpty(t *testing.T) {
	_, err := NewCredentialPool([]string{"bogus", ""}, 1, 1)
	assert.Error(t, err)
}

func TestNewCredentialPoolDropsDuplicates(t *testing.T) {
	p, err := NewCredentialPool([]string{"ghp_a", " ghp_a ", "nope", "ghp_b"}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
}

func TestAcquireRoundRobin(t *testing.T) {
	p, err := NewCredentialPool([]string{"ghp_a", "ghp_b", "ghp_c"}, 1000, 100)
	require.NoError(t, err)

	ctx := context.Background()
	var got []string
	for range 6 {
		c, err := p.Acquire(ctx)
		require.NoError(t, err)
		got = append(got, c.Token)
	}
	assert.Equal(t, []string{"ghp_a", "ghp_b", "ghp_c", "ghp_a", "ghp_b", "ghp_c"}, got)
}

func TestInvalidateSkipsUntilReset(t *testing.T) {
	p, err := NewCredentialPool([]string{"ghp_a", "ghp_b"}, 1000, 100)
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	ctx := context.Background()
	p.Invalidate("ghp_a", now.Add(time.Minute))
	assert.Equal(t, 1, p.Available())

	for range 3 {
		c, err := p.Acquire(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ghp_b", c.Token)
	}

	p.Invalidate("ghp_b", now.Add(time.Minute))
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	now = now.Add(2 * time.Minute)
	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, c.Token)
	assert.Equal(t, 2, p.Available())
}

func TestReleaseBlocksExhaustedCredential(t *testing.T) {
	p, err := NewCredentialPool([]string{"ghp_a"}, 1000, 100)
	require.NoError(t, err)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.Release(c, 10, time.Now().Add(time.Hour))
	assert.Equal(t, 1, p.Available())

	p.Release(c, 0, time.Now().Add(time.Hour))
	assert.Equal(t, 0, p.Available())
}

func TestAcquireHonorsContext(t *testing.T) {
	p, err := NewCredentialPool([]string{"ghp_a"}, 0.001, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = p.Acquire(ctx)
	require.NoError(t, err)

	cancel()
	_, err = p.Acquire(ctx)
	assert.Error(t, err)
}
