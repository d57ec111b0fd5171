package service

import (
	"testing"

	"reward_platform/internal/domain"
	"reward_platform/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustBalance(t *testing.T) {
	f := newFixture(t)
	admin := f.moderator(t, domain.RoleAdmin)
	u := f.user(t, domain.CountryBD, 100)

	entry, err := f.admin.AdjustBalance(f.ctx, AdjustRequest{
		AdminID: admin.ID, AdminRole: admin.Role, UserID: u.ID, Points: -40, Reason: " chargeback ",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxAdminAdjustment, entry.Type)
	assert.Equal(t, "chargeback", entry.Description)
	assert.Equal(t, int64(60), entry.NewBalance)

	_, err = f.admin.AdjustBalance(f.ctx, AdjustRequest{
		AdminID: admin.ID, AdminRole: admin.Role, UserID: u.ID, Points: -61, Type: domain.TxPenalty, Reason: "fraud",
	})
	assert.Equal(t, domain.KindInsufficientBalance, domain.KindOf(err))

	_, err = f.admin.AdjustBalance(f.ctx, AdjustRequest{
		AdminID: admin.ID, AdminRole: admin.Role, UserID: u.ID, Points: 15, Type: domain.TxBonus, Reason: "contest",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(75), f.get(t, u.ID).Points)

	logs, err := f.audit.GetUserAuditLogs(f.ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.AuditActionAdminAdjust, logs[0].Action)
	assert.Equal(t, domain.AuditCategoryAdmin, logs[0].Category)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, admin.ID, *logs[0].ActorID)
	f.assertConsistent(t)
}

func TestAdjustBalanceRejections(t *testing.T) {
	f := newFixture(t)
	admin := f.moderator(t, domain.RoleAdmin)
	mod := f.moderator(t, domain.RoleModerator)
	u := f.user(t, domain.CountryBD, 100)

	_, err := f.admin.AdjustBalance(f.ctx, AdjustRequest{
		AdminID: mod.ID, AdminRole: mod.Role, UserID: u.ID, Points: 10, Reason: "x",
	})
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	cases := map[string]AdjustRequest{
		"zero":           {Points: 0, Reason: "x"},
		"no reason":      {Points: 10, Reason: "  "},
		"negative bonus": {Points: -10, Type: domain.TxBonus, Reason: "x"},
		"positive fine":  {Points: 10, Type: domain.TxPenalty, Reason: "x"},
		"reserved type":  {Points: 10, Type: domain.TxRefund, Reason: "x"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			req.AdminID, req.AdminRole, req.UserID = admin.ID, admin.Role, u.ID
			_, err := f.admin.AdjustBalance(f.ctx, req)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}

	_, err = f.admin.AdjustBalance(f.ctx, AdjustRequest{
		AdminID: admin.ID, AdminRole: admin.Role, UserID: 9999, Points: 10, Reason: "x",
	})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, int64(100), f.get(t, u.ID).Points)
}

func TestGetUser(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, domain.CountryBD, 0)
	require.NoError(t, f.store.InTx(f.ctx, func(q repository.Querier) error {
		return q.SetTelegramID(f.ctx, u.ID, 777)
	}))

	got, err := f.admin.GetUser(f.ctx, "tg:777")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = f.admin.GetUser(f.ctx, " 1 ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = f.admin.GetUser(f.ctx, "abc")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, err = f.admin.GetUser(f.ctx, "tg:1")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestModeratorByTelegram(t *testing.T) {
	f := newFixture(t)
	mod := f.moderator(t, domain.RoleModerator)
	u := f.user(t, domain.CountryBD, 0)
	require.NoError(t, f.store.InTx(f.ctx, func(q repository.Querier) error {
		if err := q.SetTelegramID(f.ctx, mod.ID, 100); err != nil {
			return err
		}
		return q.SetTelegramID(f.ctx, u.ID, 200)
	}))

	got, err := f.admin.ModeratorByTelegram(f.ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, mod.ID, got.ID)

	_, err = f.admin.ModeratorByTelegram(f.ctx, 200)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))
	_, err = f.admin.ModeratorByTelegram(f.ctx, 300)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))
}
