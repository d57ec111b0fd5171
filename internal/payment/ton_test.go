package payment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"reward_platform/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
)

type fakeWallet struct {
	balance tlb.Coins
	err     error

	to      *address.Address
	amount  tlb.Coins
	comment string
}

func (w *fakeWallet) Balance(context.Context) (tlb.Coins, error) {
	return w.balance, nil
}

func (w *fakeWallet) Transfer(_ context.Context, to *address.Address, amount tlb.Coins, comment string) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	w.to, w.amount, w.comment = to, amount, comment
	return "abcdef", nil
}

var rawAddr = "0:" + strings.Repeat("ab", 32)

func TestParseAddressRaw(t *testing.T) {
	addr, err := ParseAddress(rawAddr)
	require.NoError(t, err)
	assert.Equal(t, int32(0), addr.Workchain())

	_, err = ParseAddress("0:zz")
	assert.Error(t, err)
	_, err = ParseAddress("0:abcd")
	assert.Error(t, err)
}

func TestValidateAccount(t *testing.T) {
	p := NewTonProcessor(&fakeWallet{}, decimal.NewFromInt(5))
	assert.NoError(t, p.ValidateAccount(rawAddr))

	err := p.ValidateAccount("not-an-address")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestAmount(t *testing.T) {
	p := NewTonProcessor(&fakeWallet{}, decimal.NewFromInt(5))

	c, err := p.Amount(decimal.RequireFromString("2.70"))
	require.NoError(t, err)
	assert.Equal(t, "540000000", c.Nano().String())

	_, err = p.Amount(decimal.Zero)
	assert.Error(t, err)

	_, err = NewTonProcessor(&fakeWallet{}, decimal.Zero).Amount(decimal.NewFromInt(1))
	assert.Error(t, err)
}

func TestSend(t *testing.T) {
	w := &fakeWallet{balance: tlb.MustFromTON("10")}
	p := NewTonProcessor(w, decimal.NewFromInt(5))

	hash, err := p.Send(context.Background(), &domain.Payout{
		ID:        42,
		NetAmount: decimal.NewFromInt(10),
		Method:    domain.PaymentMethod{Type: domain.MethodTON, AccountID: rawAddr},
	})
	require.NoError(t, err)
	assert.Equal(t, "abcdef", hash)
	assert.Equal(t, "2000000000", w.amount.Nano().String())
	assert.Equal(t, "payout:42", w.comment)
}

func TestSendLowBalance(t *testing.T) {
	w := &fakeWallet{balance: tlb.MustFromTON("1")}
	p := NewTonProcessor(w, decimal.NewFromInt(5))

	_, err := p.Send(context.Background(), &domain.Payout{
		ID:        1,
		NetAmount: decimal.NewFromInt(10),
		Method:    domain.PaymentMethod{Type: domain.MethodTON, AccountID: rawAddr},
	})
	assert.Error(t, err)
	assert.Nil(t, w.to)
}

func TestSendTransferError(t *testing.T) {
	w := &fakeWallet{balance: tlb.MustFromTON("10"), err: errors.New("lite server timeout")}
	p := NewTonProcessor(w, decimal.NewFromInt(5))

	_, err := p.Send(context.Background(), &domain.Payout{
		NetAmount: decimal.NewFromInt(1),
		Method:    domain.PaymentMethod{AccountID: rawAddr},
	})
	assert.ErrorContains(t, err, "lite server timeout")
}
