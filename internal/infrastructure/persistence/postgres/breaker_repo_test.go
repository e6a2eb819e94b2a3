package postgres

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildforge/achievement-engine/internal/domain/achievement"
	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/pkg/circuitbreaker"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// stubRepo overrides the methods under test; anything else panics through
// the embedded nil interface.
type stubRepo struct {
	achievement.Repository
	calls int
	err   error
}

func (s *stubRepo) GetAchievementByID(_ context.Context, _ int64) (*achievement.Achievement, error) {
	s.calls++
	return nil, s.err
}

func (s *stubRepo) AwardAchievement(_ context.Context, _ *achievement.UserAchievement) error {
	s.calls++
	return s.err
}

func newTestBreakerRepo(inner achievement.Repository) *BreakerRepository {
	return NewBreakerRepository(inner, logger.New(logger.Options{Output: io.Discard}))
}

func TestBreakerOpensOnInfrastructureFailures(t *testing.T) {
	stub := &stubRepo{err: shared.WrapError("postgres", "GetAchievementByID",
		shared.ErrExternalService, "query failed", errors.New("connection refused"))}
	repo := newTestBreakerRepo(stub)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.GetAchievementByID(ctx, 1)
		require.Error(t, err)
	}
	require.Equal(t, circuitbreaker.StateOpen, repo.State())

	// The open circuit rejects without touching the database.
	_, err := repo.GetAchievementByID(ctx, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrServiceUnavailable))
	assert.Equal(t, 3, stub.calls)
}

func TestBreakerIgnoresDomainOutcomes(t *testing.T) {
	stub := &stubRepo{err: shared.ErrDuplicateAward}
	repo := newTestBreakerRepo(stub)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := repo.AwardAchievement(ctx, &achievement.UserAchievement{})
		require.True(t, errors.Is(err, shared.ErrDuplicateAward))
	}

	assert.Equal(t, circuitbreaker.StateClosed, repo.State())
	assert.Equal(t, 5, stub.calls)
}

func TestBreakerPassesResultsThrough(t *testing.T) {
	stub := &stubRepo{}
	repo := newTestBreakerRepo(stub)

	err := repo.AwardAchievement(context.Background(), &achievement.UserAchievement{})
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, repo.State())
}
