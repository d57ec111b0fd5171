package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"reward_platform/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MessageSender - часть tgbotapi.BotAPI, нужная синку
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink пишет пользователю в привязанный чат,
// о новых заявках на выплату сообщает админам
type TelegramSink struct {
	bot        MessageSender
	adminChats []int64
}

func NewTelegramSink(bot MessageSender, adminChats []int64) *TelegramSink {
	return &TelegramSink{bot: bot, adminChats: adminChats}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(_ context.Context, user domain.User, ev Event) error {
	var errs []error
	if user.TelegramID != nil {
		if _, err := s.bot.Send(tgbotapi.NewMessage(*user.TelegramID, userText(ev))); err != nil {
			errs = append(errs, fmt.Errorf("user chat: %w", err))
		}
	}
	if ev.Type == EventPayoutCreated && ev.Payout != nil {
		text := AdminPayoutText(user, ev.Payout)
		for _, chat := range s.adminChats {
			if _, err := s.bot.Send(tgbotapi.NewMessage(chat, text)); err != nil {
				errs = append(errs, fmt.Errorf("admin chat %d: %w", chat, err))
			}
		}
	}
	return errors.Join(errs...)
}

func userText(ev Event) string {
	switch ev.Type {
	case EventPayoutCreated:
		return fmt.Sprintf("Payout request #%d for %d points received. Balance: %d",
			ev.Payout.ID, ev.Payout.Amount.Points, ev.Balance)
	case EventPayoutUpdated:
		text := fmt.Sprintf("Payout #%d is now %s", ev.Payout.ID, ev.Payout.Status)
		if ev.Payout.Status.Refunded() {
			text += fmt.Sprintf(", %d points returned. Balance: %d", ev.Payout.Amount.Points, ev.Balance)
		}
		return text
	case EventReferralBonus:
		return fmt.Sprintf("Referral bonus: +%d points. Balance: %d", ev.Points, ev.Balance)
	}
	if ev.Message != "" {
		return fmt.Sprintf("%s: %+d points. Balance: %d", ev.Message, ev.Points, ev.Balance)
	}
	return fmt.Sprintf("%+d points (%s). Balance: %d", ev.Points, ev.EntryType, ev.Balance)
}

// AdminPayoutText - карточка заявки для админского чата
func AdminPayoutText(user domain.User, p *domain.Payout) string {
	return fmt.Sprintf("💸 Payout #%d\nUser: %s (id %d, %s)\nPoints: %d\nUSD: %s (net %s)\nLocal: %s %s\nMethod: %s %s\nStatus: %s",
		p.ID, user.Username, user.ID, user.Country,
		p.Amount.Points,
		p.Amount.USDValue.StringFixed(2), p.NetAmount.StringFixed(2),
		p.Amount.LocalValue.StringFixed(2), p.Amount.LocalCurrency,
		p.Method.Type, p.Method.AccountID,
		p.Status)
}

// Pusher - хаб вебсокетов
type Pusher interface {
	SendToUser(userID int64, payload []byte) int
}

// WSSink отправляет событие во все открытые соединения пользователя
type WSSink struct {
	hub Pusher
}

func NewWSSink(hub Pusher) *WSSink {
	return &WSSink{hub: hub}
}

func (s *WSSink) Name() string { return "websocket" }

func (s *WSSink) Send(_ context.Context, user domain.User, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.hub.SendToUser(user.ID, payload)
	return nil
}
