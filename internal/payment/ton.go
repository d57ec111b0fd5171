package payment

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"reward_platform/internal/config"
	"reward_platform/internal/domain"
	"reward_platform/internal/logger"

	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	mainnetConfigURL = "https://ton.org/global.config.json"
	testnetConfigURL = "https://ton.org/testnet-global.config.json"

	// комиссия сети, которую держим сверх суммы перевода
	networkReserveNano = 10_000_000
)

// Transferer отправляет перевод и ждет его включения в блок
type Transferer interface {
	Balance(ctx context.Context) (tlb.Coins, error)
	Transfer(ctx context.Context, to *address.Address, amount tlb.Coins, comment string) (string, error)
}

// TonProcessor автоматически выплачивает net amount в TON по курсу TON_USD_RATE
type TonProcessor struct {
	wallet  Transferer
	usdRate decimal.Decimal
}

func NewTonProcessor(w Transferer, usdRate decimal.Decimal) *TonProcessor {
	return &TonProcessor{wallet: w, usdRate: usdRate}
}

// NewTonProcessorFromConfig подключается к лайтсерверам и поднимает кошелек из мнемоники
func NewTonProcessorFromConfig(ctx context.Context, cfg config.TONConfig) (*TonProcessor, error) {
	w, err := NewWallet(ctx, cfg.Mnemonic, cfg.Network)
	if err != nil {
		return nil, err
	}
	logger.Info("ton payouts enabled", "wallet", w.Address(), "network", cfg.Network)
	return NewTonProcessor(w, cfg.USDRate), nil
}

func (p *TonProcessor) Method() domain.PaymentMethodType {
	return domain.MethodTON
}

func (p *TonProcessor) ValidateAccount(accountID string) error {
	if _, err := ParseAddress(accountID); err != nil {
		return domain.Validation("invalid ton address: %v", err)
	}
	return nil
}

// Send конвертирует NetAmount (USD) в TON и отправляет с комментарием payout:<id>
func (p *TonProcessor) Send(ctx context.Context, payout *domain.Payout) (string, error) {
	to, err := ParseAddress(payout.Method.AccountID)
	if err != nil {
		return "", fmt.Errorf("recipient: %w", err)
	}
	amount, err := p.Amount(payout.NetAmount)
	if err != nil {
		return "", err
	}

	balance, err := p.wallet.Balance(ctx)
	if err != nil {
		return "", fmt.Errorf("check wallet balance: %w", err)
	}
	need := decimal.NewFromBigInt(amount.Nano(), 0).Add(decimal.New(networkReserveNano, 0))
	if decimal.NewFromBigInt(balance.Nano(), 0).LessThan(need) {
		return "", fmt.Errorf("payout wallet balance %s TON is below %s TON", balance.String(), amount.String())
	}

	hash, err := p.wallet.Transfer(ctx, to, amount, fmt.Sprintf("payout:%d", payout.ID))
	if err != nil {
		return "", fmt.Errorf("send ton: %w", err)
	}
	logger.WithContext(ctx).Info("ton payout sent", "payout_id", payout.ID, "amount_ton", amount.String(), "tx", hash)
	return hash, nil
}

// Amount - сумма в TON для usd, 9 знаков после запятой
func (p *TonProcessor) Amount(usd decimal.Decimal) (tlb.Coins, error) {
	if !p.usdRate.IsPositive() {
		return tlb.Coins{}, fmt.Errorf("ton usd rate is not set")
	}
	if !usd.IsPositive() {
		return tlb.Coins{}, fmt.Errorf("payout amount must be positive")
	}
	return tlb.FromTON(usd.DivRound(p.usdRate, 9).StringFixed(9))
}

// ParseAddress принимает user-friendly (EQ.../UQ...) и raw (0:hex, -1:hex) адреса
func ParseAddress(s string) (*address.Address, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0:") || strings.HasPrefix(s, "-1:") {
		return parseRawAddress(s)
	}
	return address.ParseAddr(s)
}

func parseRawAddress(raw string) (*address.Address, error) {
	wc, hashHex, _ := strings.Cut(raw, ":")
	var workchain int32
	if wc == "-1" {
		workchain = -1
	}
	hash, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex in address: %w", err)
	}
	if len(hash) != 32 {
		return nil, fmt.Errorf("invalid hash length: expected 32 bytes, got %d", len(hash))
	}
	return address.NewAddress(0, byte(workchain), hash), nil
}

// Wallet - горячий кошелек W5 для автоматических выплат
type Wallet struct {
	api    ton.APIClientWrapped
	wallet *wallet.Wallet
}

func NewWallet(ctx context.Context, mnemonic, network string) (*Wallet, error) {
	configURL, networkID := mainnetConfigURL, int32(-239)
	if network == "testnet" {
		configURL, networkID = testnetConfigURL, -3
	}

	pool := liteclient.NewConnectionPool()
	if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
		return nil, fmt.Errorf("connect to lite servers: %w", err)
	}
	api := ton.NewAPIClient(pool).WithRetry()

	words := strings.Fields(mnemonic)
	if len(words) != 24 {
		return nil, fmt.Errorf("invalid mnemonic: expected 24 words, got %d", len(words))
	}
	w, err := wallet.FromSeed(api, words, wallet.ConfigV5R1Final{
		NetworkGlobalID: networkID,
		Workchain:       0,
	})
	if err != nil {
		return nil, fmt.Errorf("wallet from seed: %w", err)
	}
	return &Wallet{api: api, wallet: w}, nil
}

func (w *Wallet) Address() string {
	return w.wallet.WalletAddress().String()
}

func (w *Wallet) Balance(ctx context.Context) (tlb.Coins, error) {
	block, err := w.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return tlb.Coins{}, fmt.Errorf("masterchain info: %w", err)
	}
	return w.wallet.GetBalance(ctx, block)
}

func (w *Wallet) Transfer(ctx context.Context, to *address.Address, amount tlb.Coins, comment string) (string, error) {
	msg := &wallet.Message{
		Mode: wallet.PayGasSeparately + wallet.IgnoreErrors,
		InternalMessage: &tlb.InternalMessage{
			IHRDisabled: true,
			Bounce:      false,
			DstAddr:     to,
			Amount:      amount,
			Body:        commentCell(comment),
		},
	}
	tx, _, err := w.wallet.SendWaitTransaction(ctx, msg)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(tx.Hash), nil
}

// commentCell: op = 0 и текст комментария
func commentCell(comment string) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(0, 32).
		MustStoreStringSnake(comment).
		EndCell()
}
