package bot

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"reward_platform/internal/domain"
	"reward_platform/internal/logger"
	"reward_platform/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Moderators находит модератора по telegram id чата
type Moderators interface {
	ModeratorByTelegram(ctx context.Context, tgID int64) (*domain.User, error)
}

// Payouts - операции модерации выплат
type Payouts interface {
	ListPayouts(ctx context.Context, f domain.PayoutFilter) ([]domain.Payout, error)
	TransitionPayout(ctx context.Context, req service.TransitionRequest) (*domain.Payout, error)
	Stats(ctx context.Context) (*domain.PayoutStats, error)
}

// AdminBot принимает команды модерации выплат в Telegram.
// Команды выполняются от имени пользователя платформы, к которому привязан чат
type AdminBot struct {
	bot        *tgbotapi.BotAPI
	moderators Moderators
	payouts    Payouts
	stopCh     chan struct{}
	wg         sync.WaitGroup
	log        *slog.Logger
}

func NewAdminBot(api *tgbotapi.BotAPI, moderators Moderators, payouts Payouts) *AdminBot {
	log := logger.With("component", "admin_bot")
	log.Info("admin bot authorized", "username", api.Self.UserName)
	return &AdminBot{
		bot:        api,
		moderators: moderators,
		payouts:    payouts,
		stopCh:     make(chan struct{}),
		log:        log,
	}
}

// Start запускает прослушивание команд, блокируется до Stop
func (b *AdminBot) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.bot.GetUpdatesChan(u)
	b.log.Info("starting bot update loop")

	for {
		select {
		case <-b.stopCh:
			b.log.Info("stopping bot update loop")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer b.wg.Done()
				b.reply(msg)
			}(update.Message)
		}
	}
}

// Stop плавно останавливает бота
func (b *AdminBot) Stop() {
	b.log.Info("stopping admin bot...")
	close(b.stopCh)
	b.bot.StopReceivingUpdates()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Info("admin bot stopped gracefully")
	case <-time.After(10 * time.Second):
		b.log.Warn("admin bot shutdown timeout, some handlers may not have completed")
	}
}

func (b *AdminBot) reply(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out := tgbotapi.NewMessage(msg.Chat.ID, b.handleCommand(ctx, msg.Chat.ID, msg.Command(), msg.CommandArguments()))
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyToMessageID = msg.MessageID
	if _, err := b.bot.Send(out); err != nil {
		b.log.Error("error sending message", "error", err)
	}
}

// handleCommand возвращает текст ответа. Чаты без привязанного модератора получают отказ
func (b *AdminBot) handleCommand(ctx context.Context, chatID int64, command, args string) string {
	actor, err := b.moderators.ModeratorByTelegram(ctx, chatID)
	if err != nil {
		b.log.Warn("bot command from unauthorized chat", "chat_id", chatID, "command", command)
		return "⛔ This chat is not linked to a moderator account."
	}
	ctx = logger.ContextWithUserID(ctx, actor.ID)

	switch command {
	case "start", "help":
		return helpMessage
	case "payouts":
		return b.handlePayouts(ctx, args)
	case "stats":
		return b.handleStats(ctx)
	case "approve":
		return b.handleTransition(ctx, actor, domain.ActionApprove, args)
	case "reject":
		return b.handleTransition(ctx, actor, domain.ActionReject, args)
	case "process":
		return b.handleTransition(ctx, actor, domain.ActionProcess, args)
	case "complete":
		return b.handleTransition(ctx, actor, domain.ActionComplete, args)
	default:
		return "❌ Unknown command. Use /help."
	}
}

const helpMessage = `<b>🤖 Payout moderation</b>

/payouts [status] - payouts by status (pending by default)
/stats - totals by status and method

/approve &lt;id&gt; - approve a pending payout
/reject &lt;id&gt; &lt;reason&gt; - reject and refund
/process &lt;id&gt; - start processing (TON is sent automatically)
/complete &lt;id&gt; [tx_id] - mark as paid`

func (b *AdminBot) handlePayouts(ctx context.Context, args string) string {
	status := domain.PayoutPending
	if s := strings.TrimSpace(args); s != "" {
		status = domain.PayoutStatus(strings.ToLower(s))
		if !status.Valid() {
			return fmt.Sprintf("Unknown status %q", html.EscapeString(s))
		}
	}

	payouts, err := b.payouts.ListPayouts(ctx, domain.PayoutFilter{Status: status, Limit: 20})
	if err != nil {
		return errorText(err)
	}
	if len(payouts) == 0 {
		return fmt.Sprintf("No %s payouts", status)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Payouts: %s</b>\n\n", status)
	for _, p := range payouts {
		fmt.Fprintf(&sb, "#%d | user %d | %d pts\n", p.ID, p.UserID, p.Amount.Points)
		fmt.Fprintf(&sb, "%s USD net, %s %s\n", p.NetAmount.StringFixed(2), p.Amount.LocalValue.StringFixed(2), p.Amount.LocalCurrency)
		fmt.Fprintf(&sb, "%s <code>%s</code>\n", p.Method.Type, html.EscapeString(p.Method.AccountID))
		fmt.Fprintf(&sb, "%s\n\n", p.CreatedAt.Format("02.01.2006 15:04"))
	}
	return sb.String()
}

var statsOrder = []domain.PayoutStatus{
	domain.PayoutPending, domain.PayoutApproved, domain.PayoutProcessing,
	domain.PayoutCompleted, domain.PayoutRejected, domain.PayoutCancelled,
}

func (b *AdminBot) handleStats(ctx context.Context) string {
	stats, err := b.payouts.Stats(ctx)
	if err != nil {
		return errorText(err)
	}

	var sb strings.Builder
	sb.WriteString("<b>Payout stats</b>\n\n<b>By status:</b>\n")
	for _, s := range statsOrder {
		bucket := stats.ByStatus[s]
		fmt.Fprintf(&sb, "- %s: %d (%d pts, $%s)\n", s, bucket.Count, bucket.Points, bucket.USD.StringFixed(2))
	}
	sb.WriteString("\n<b>By method:</b>\n")
	for _, m := range domain.PaymentMethodTypes() {
		bucket, ok := stats.ByMethod[m]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %d (%d pts, $%s)\n", m, bucket.Count, bucket.Points, bucket.USD.StringFixed(2))
	}
	return sb.String()
}

// handleTransition: "<id> [note]". Для reject note - причина, для complete - id внешней транзакции
func (b *AdminBot) handleTransition(ctx context.Context, actor *domain.User, action domain.PayoutAction, args string) string {
	idStr, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return fmt.Sprintf("Usage: /%s &lt;id&gt;%s", action, usageTail(action))
	}
	rest = strings.TrimSpace(rest)

	req := service.TransitionRequest{
		PayoutID:  id,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
	}
	if action == domain.ActionComplete {
		req.ExternalTransactionID = rest
	} else {
		req.Note = rest
	}

	p, err := b.payouts.TransitionPayout(ctx, req)
	if err != nil {
		return errorText(err)
	}
	b.log.Info("payout moderated via bot", "payout_id", p.ID, "action", action, "actor_id", actor.ID, "status", p.Status)

	text := fmt.Sprintf("✅ Payout #%d is now <b>%s</b>", p.ID, p.Status)
	if p.ExternalTransactionID != "" {
		text += fmt.Sprintf("\nTx: <code>%s</code>", html.EscapeString(p.ExternalTransactionID))
	}
	if p.Status == domain.PayoutProcessing && p.AdminNotes != "" {
		text += "\n⚠️ " + html.EscapeString(p.AdminNotes)
	}
	return text
}

func usageTail(action domain.PayoutAction) string {
	switch action {
	case domain.ActionReject:
		return " &lt;reason&gt;"
	case domain.ActionComplete:
		return " [tx_id]"
	}
	return ""
}

func errorText(err error) string {
	if domain.KindOf(err) == "" {
		return "❌ Internal error"
	}
	return "❌ " + html.EscapeString(err.Error())
}
