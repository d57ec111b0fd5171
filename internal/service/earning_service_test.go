package service

import (
	"testing"
	"time"

	"reward_platform/internal/config"
	"reward_platform/internal/domain"
	"reward_platform/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestDailyBonusAmount(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, int64(10), f.earnings.DailyBonusAmount(0))
	assert.Equal(t, int64(10), f.earnings.DailyBonusAmount(1))
	assert.Equal(t, int64(20), f.earnings.DailyBonusAmount(3))
	assert.Equal(t, int64(30), f.earnings.DailyBonusAmount(10))
}

func TestDailyBonusStreak(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryBD, 0)

	e, err := f.earnings.ClaimDailyBonus(f.ctx, u.ID, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), e.Points)

	f.clock.Advance(23 * time.Hour)
	_, err = f.earnings.ClaimDailyBonus(f.ctx, u.ID, RequestMeta{})
	assert.Equal(t, domain.KindNotEligible, domain.KindOf(err))

	f.clock.Advance(2 * time.Hour)
	e, err = f.earnings.ClaimDailyBonus(f.ctx, u.ID, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(15), e.Points)
	assert.Equal(t, 2, f.get(t, u.ID).DailyBonusStreak)

	// пропуск больше 48 часов сбрасывает серию
	f.clock.Advance(49 * time.Hour)
	e, err = f.earnings.ClaimDailyBonus(f.ctx, u.ID, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), e.Points)
	assert.Equal(t, 1, f.get(t, u.ID).DailyBonusStreak)

	assert.Equal(t, int64(35), f.get(t, u.ID).Points)
	f.assertConsistent(t)
}

func TestDailyBonusDisabledUser(t *testing.T) {
	f := newFixture(t)
	u := &domain.User{Email: "off@example.com", Username: "off", Country: domain.CountryBD, ReferralCode: "OFF00001", IsBanned: true, IsActive: true}
	require.NoError(t, f.store.InTx(f.ctx, func(q repository.Querier) error {
		return q.CreateUser(f.ctx, u)
	}))

	_, err := f.earnings.ClaimDailyBonus(f.ctx, u.ID, RequestMeta{})
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))
	assert.Zero(t, f.entries(t, u.ID, domain.TxDailyBonus))
}

func TestVideoDailyLimitUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryUS, 0)

	var (
		g       errgroup.Group
		results = make([]error, 100)
	)
	for i := range results {
		g.Go(func() error {
			_, results[i] = f.earnings.RecordVideoWatch(f.ctx, u.ID, RequestMeta{})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, limited int
	for _, err := range results {
		switch domain.KindOf(err) {
		case "":
			require.NoError(t, err)
			ok++
		case domain.KindLimitExceeded:
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 97, limited)
	assert.Equal(t, int64(15), f.get(t, u.ID).Points)
	f.assertConsistent(t)
}

func TestVideoLimitResetsNextDay(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryUS, 0)

	for range 3 {
		_, err := f.earnings.RecordVideoWatch(f.ctx, u.ID, RequestMeta{})
		require.NoError(t, err)
	}
	_, err := f.earnings.RecordVideoWatch(f.ctx, u.ID, RequestMeta{})
	require.Equal(t, domain.KindLimitExceeded, domain.KindOf(err))

	f.clock.Advance(12 * time.Hour)
	_, err = f.earnings.RecordVideoWatch(f.ctx, u.ID, RequestMeta{})
	assert.NoError(t, err)
}

func TestZeroVideoLimitBlocksAll(t *testing.T) {
	f := newFixture(t, func(c *config.EarningConfig) { c.VideoDailyLimit = 0 })
	u := f.user(t, domain.CountryUS, 0)

	_, err := f.earnings.RecordVideoWatch(f.ctx, u.ID, RequestMeta{})
	assert.Equal(t, domain.KindLimitExceeded, domain.KindOf(err))
}

func TestGetQuizNonPositiveSize(t *testing.T) {
	f := newFixture(t, func(c *config.EarningConfig) { c.QuizQuestions = -1 })
	assert.Empty(t, f.earnings.GetQuiz())
}

func TestGetQuizHidesAnswers(t *testing.T) {
	f := newFixture(t)
	quiz := f.earnings.GetQuiz()
	require.Len(t, quiz, 5)

	seen := map[string]bool{}
	for _, q := range quiz {
		assert.NotEmpty(t, q.Options)
		assert.False(t, seen[q.ID])
		seen[q.ID] = true
	}
}

func TestSubmitQuiz(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryBD, 0)

	// q01 -> 1 и q02 -> 2 правильные, q03 нет
	res, err := f.earnings.SubmitQuiz(f.ctx, u.ID, map[string]int{"q01": 1, "q02": 2, "q03": 3}, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Correct)
	assert.Equal(t, int64(4), res.Entry.Points)
	assert.Equal(t, domain.TxQuizReward, res.Entry.Type)
}

func TestSubmitQuizRejections(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryBD, 0)

	_, err := f.earnings.SubmitQuiz(f.ctx, u.ID, nil, RequestMeta{})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.earnings.SubmitQuiz(f.ctx, u.ID, map[string]int{"nope": 0}, RequestMeta{})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.earnings.SubmitQuiz(f.ctx, u.ID, map[string]int{"q01": 9}, RequestMeta{})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.earnings.SubmitQuiz(f.ctx, u.ID, map[string]int{"q01": 0}, RequestMeta{})
	assert.Equal(t, domain.KindNotEligible, domain.KindOf(err))

	for range 2 {
		_, err = f.earnings.SubmitQuiz(f.ctx, u.ID, map[string]int{"q01": 1}, RequestMeta{})
		require.NoError(t, err)
	}
	_, err = f.earnings.SubmitQuiz(f.ctx, u.ID, map[string]int{"q01": 1}, RequestMeta{})
	assert.Equal(t, domain.KindLimitExceeded, domain.KindOf(err))
	assert.Zero(t, f.entries(t, u.ID, domain.TxDailyBonus))
}
