package service

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"reward_platform/internal/config"
	"reward_platform/internal/domain"
	"reward_platform/internal/logger"
	"reward_platform/internal/metrics"
	"reward_platform/internal/notify"
)

//go:embed quiz.json
var quizBankJSON []byte

// LoadQuizBank разбирает встроенный банк вопросов
func LoadQuizBank() ([]domain.QuizQuestion, error) {
	var bank []domain.QuizQuestion
	if err := json.Unmarshal(quizBankJSON, &bank); err != nil {
		return nil, fmt.Errorf("quiz bank: %w", err)
	}
	return bank, nil
}

// EarningService - дневной бонус, видео и квизы
type EarningService struct {
	balance  *BalanceService
	notifier notify.Notifier
	metrics  *metrics.Metrics
	cfg      config.EarningConfig

	quiz     []domain.QuizQuestion
	quizByID map[string]domain.QuizQuestion

	now func() time.Time
}

func NewEarningService(balance *BalanceService, n notify.Notifier, m *metrics.Metrics, cfg config.EarningConfig, bank []domain.QuizQuestion) *EarningService {
	if n == nil {
		n = notify.Nop{}
	}
	byID := make(map[string]domain.QuizQuestion, len(bank))
	for _, q := range bank {
		byID[q.ID] = q
	}
	return &EarningService{
		balance:  balance,
		notifier: n,
		metrics:  m,
		cfg:      cfg,
		quiz:     bank,
		quizByID: byID,
		now:      time.Now,
	}
}

// SetClock подменяет часы (тесты)
func (s *EarningService) SetClock(now func() time.Time) {
	s.now = now
}

// DailyBonusAmount: base + step*(streak-1), не больше cap
func (s *EarningService) DailyBonusAmount(streak int) int64 {
	if streak < 1 {
		streak = 1
	}
	return min(s.cfg.DailyBonusBase+s.cfg.DailyBonusStep*int64(streak-1), s.cfg.DailyBonusCap)
}

// ClaimDailyBonus начисляет бонус раз в 24 часа.
// Повторный заход через 24-48 часов продолжает серию, позже - серия с начала
func (s *EarningService) ClaimDailyBonus(ctx context.Context, userID int64, meta RequestMeta) (*domain.Transaction, error) {
	var (
		entry *domain.Transaction
		user  domain.User
	)
	err := s.balance.WithUserLock(ctx, userID, func(m *Mutation, u *domain.User) error {
		if err := checkActive(u); err != nil {
			return err
		}
		now := s.now()

		streak := 1
		if u.LastDailyBonus != nil {
			since := now.Sub(*u.LastDailyBonus)
			if since < 24*time.Hour {
				next := u.LastDailyBonus.Add(24 * time.Hour)
				return domain.NotEligible("daily bonus already claimed, next at %s", next.UTC().Format(time.RFC3339))
			}
			if since < 48*time.Hour {
				streak = u.DailyBonusStreak + 1
			}
		}

		amount := s.DailyBonusAmount(streak)
		e, err := m.Apply(ctx, u, DeltaRequest{
			Points:      amount,
			Type:        domain.TxDailyBonus,
			Description: fmt.Sprintf("Daily bonus, day %d", streak),
			Details:     map[string]any{"streak": streak},
			Meta:        meta,
		})
		if err != nil {
			return err
		}
		if err := m.Q.UpdateDailyBonus(ctx, u.ID, streak, now); err != nil {
			return err
		}
		u.DailyBonusStreak = streak
		u.LastDailyBonus = &now

		entry, user = e, *u
		return nil
	})
	if err != nil {
		return nil, s.rejected(ctx, "daily_bonus", err)
	}

	s.notifier.Notify(ctx, user, notify.BalanceEvent(entry, "Daily bonus"))
	return entry, nil
}

// RecordVideoWatch - фиксированная награда, лимит в день считается по леджеру
func (s *EarningService) RecordVideoWatch(ctx context.Context, userID int64, meta RequestMeta) (*domain.Transaction, error) {
	var (
		entry *domain.Transaction
		user  domain.User
	)
	err := s.balance.WithUserLock(ctx, userID, func(m *Mutation, u *domain.User) error {
		if err := checkActive(u); err != nil {
			return err
		}
		if err := s.checkDailyLimit(ctx, m, u.ID, domain.TxVideoReward, s.cfg.VideoDailyLimit); err != nil {
			return err
		}
		e, err := m.Apply(ctx, u, DeltaRequest{
			Points:      s.cfg.VideoReward,
			Type:        domain.TxVideoReward,
			Description: "Video watched",
			Meta:        meta,
		})
		if err != nil {
			return err
		}
		entry, user = e, *u
		return nil
	})
	if err != nil {
		return nil, s.rejected(ctx, "video", err)
	}

	s.notifier.Notify(ctx, user, notify.BalanceEvent(entry, "Video reward"))
	return entry, nil
}

// GetQuiz возвращает случайную выборку вопросов без ответов
func (s *EarningService) GetQuiz() []domain.QuizView {
	n := max(min(s.cfg.QuizQuestions, len(s.quiz)), 0)
	views := make([]domain.QuizView, 0, n)
	for _, i := range rand.Perm(len(s.quiz))[:n] {
		views = append(views, s.quiz[i].View())
	}
	return views
}

// SubmitQuiz проверяет ответы (id вопроса -> индекс варианта) и начисляет за правильные
func (s *EarningService) SubmitQuiz(ctx context.Context, userID int64, answers map[string]int, meta RequestMeta) (*domain.QuizResult, error) {
	if len(answers) == 0 {
		return nil, domain.Validation("no answers submitted")
	}
	if len(answers) > len(s.quiz) {
		return nil, domain.Validation("too many answers")
	}
	correct := 0
	for id, answer := range answers {
		q, ok := s.quizByID[id]
		if !ok {
			return nil, domain.Validation("unknown question %q", id)
		}
		if answer < 0 || answer >= len(q.Options) {
			return nil, domain.Validation("answer for %q is out of range", id)
		}
		if answer == q.Answer {
			correct++
		}
	}

	result := &domain.QuizResult{Total: len(answers), Correct: correct}
	var user domain.User
	err := s.balance.WithUserLock(ctx, userID, func(m *Mutation, u *domain.User) error {
		if err := checkActive(u); err != nil {
			return err
		}
		if err := s.checkDailyLimit(ctx, m, u.ID, domain.TxQuizReward, s.cfg.QuizDailyLimit); err != nil {
			return err
		}
		if correct == 0 {
			return domain.NotEligible("no correct answers")
		}
		e, err := m.Apply(ctx, u, DeltaRequest{
			Points:      int64(correct) * s.cfg.QuizPointsPerCorrect,
			Type:        domain.TxQuizReward,
			Description: fmt.Sprintf("Quiz: %d/%d correct", correct, len(answers)),
			Details:     map[string]any{"correct": correct, "total": len(answers)},
			Meta:        meta,
		})
		if err != nil {
			return err
		}
		result.Entry, user = e, *u
		return nil
	})
	if err != nil {
		return nil, s.rejected(ctx, "quiz", err)
	}

	s.notifier.Notify(ctx, user, notify.BalanceEvent(result.Entry, "Quiz reward"))
	return result, nil
}

// checkDailyLimit считает записи типа typ за текущие сутки (UTC)
func (s *EarningService) checkDailyLimit(ctx context.Context, m *Mutation, userID int64, typ domain.TransactionType, limit int64) error {
	dayStart, _ := domain.DayWindow(s.now())
	n, err := m.Q.CountTransactions(ctx, domain.TransactionFilter{
		UserID: &userID,
		Type:   typ,
		Since:  &dayStart,
	})
	if err != nil {
		return err
	}
	if n >= limit {
		return domain.LimitExceeded("daily %s limit of %d reached", typ, limit)
	}
	return nil
}

func (s *EarningService) rejected(ctx context.Context, source string, err error) error {
	return recordRejection(ctx, s.metrics, source, err)
}

// recordRejection считает отказы по бизнес-правилам, инфраструктурные ошибки пропускает
func recordRejection(ctx context.Context, m *metrics.Metrics, source string, err error) error {
	switch kind := domain.KindOf(err); kind {
	case "", domain.KindConflict:
	default:
		m.EarningRejected(source, string(kind))
		logger.WithContext(ctx).Debug("earning rejected", "source", source, "kind", kind, "reason", err)
	}
	return err
}

func checkActive(u *domain.User) error {
	if !u.CanAct() {
		return domain.Forbidden("account is disabled")
	}
	return nil
}
