package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/clock"
	"github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	"github.com/smallbiznis/accessportal/internal/enrollmenttoken/repository"
	"github.com/smallbiznis/accessportal/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.EnrollmentToken{}))
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	return New(Params{DB: conn, Log: zap.NewNop(), GenID: node, Repo: repository.Provide(), Clock: clk}), conn, clk
}

func TestGenerateStoresHashOnly(t *testing.T) {
	svc, conn, clk := newTestService(t)

	res, err := svc.Generate(context.Background(), domain.GenerateRequest{
		OrgID:        1,
		UserID:       2,
		TokenType:    domain.TokenTypeInvitation,
		ExpiresHours: 72,
		Metadata:     map[string]any{"email": "a@acme.com"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, clk.Now().Add(72*time.Hour), res.ExpiresAt)

	var row domain.EnrollmentToken
	require.NoError(t, conn.First(&row, "id = ?", res.TokenID).Error)
	assert.Equal(t, HashToken(res.Token), row.TokenHash)
	assert.NotEqual(t, res.Token, row.TokenHash)
}

func TestValidateAndMarkUsedOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Generate(ctx, domain.GenerateRequest{OrgID: 1, UserID: 2, TokenType: domain.TokenTypeDevice, DeviceType: "laptop"})
	require.NoError(t, err)

	v, err := svc.Validate(ctx, res.Token, domain.TokenTypeDevice)
	require.NoError(t, err)
	require.True(t, v.IsValid)
	assert.Equal(t, res.TokenID, v.TokenID)
	assert.Equal(t, snowflake.ID(2), v.UserID)
	assert.Equal(t, snowflake.ID(1), v.OrgID)

	wrongType, err := svc.Validate(ctx, res.Token, domain.TokenTypeInvitation)
	require.NoError(t, err)
	assert.False(t, wrongType.IsValid)

	ok, err := svc.MarkUsed(ctx, 1, res.TokenID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.MarkUsed(ctx, 1, res.TokenID)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err = svc.Validate(ctx, res.Token, domain.TokenTypeDevice)
	require.NoError(t, err)
	assert.False(t, v.IsValid)
}

func TestExpiredTokenRejected(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	res, err := svc.Generate(ctx, domain.GenerateRequest{OrgID: 1, UserID: 2, TokenType: domain.TokenTypeTailscale, ExpiresHours: 1})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	v, err := svc.Validate(ctx, res.Token, domain.TokenTypeTailscale)
	require.NoError(t, err)
	assert.False(t, v.IsValid)

	ok, err := svc.MarkUsed(ctx, 1, res.TokenID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Generate(ctx, domain.GenerateRequest{UserID: 1, TokenType: domain.TokenTypeDevice})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
	_, err = svc.Generate(ctx, domain.GenerateRequest{OrgID: 1, TokenType: domain.TokenTypeDevice})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
	_, err = svc.Generate(ctx, domain.GenerateRequest{OrgID: 1, UserID: 1, TokenType: "magic"})
	assert.ErrorIs(t, err, domain.ErrInvalidTokenType)
	_, err = svc.Generate(ctx, domain.GenerateRequest{OrgID: 1, UserID: 1, TokenType: domain.TokenTypeDevice, ExpiresHours: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidExpiry)
}

func TestPurgeExpiredKeepsLiveTokens(t *testing.T) {
	svc, conn, clk := newTestService(t)
	ctx := context.Background()

	stale, err := svc.Generate(ctx, domain.GenerateRequest{OrgID: 1, UserID: 2, TokenType: domain.TokenTypeDevice, ExpiresHours: 1})
	require.NoError(t, err)
	live, err := svc.Generate(ctx, domain.GenerateRequest{OrgID: 1, UserID: 2, TokenType: domain.TokenTypeDevice, ExpiresHours: 72})
	require.NoError(t, err)

	clk.Advance(48 * time.Hour)
	n, err := svc.PurgeExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var remaining []domain.EnrollmentToken
	require.NoError(t, conn.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, live.TokenID, remaining[0].ID)
	assert.NotEqual(t, stale.TokenID, remaining[0].ID)
}

func TestMarkUsedScopedToOrganization(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Generate(ctx, domain.GenerateRequest{OrgID: 999, UserID: 2, TokenType: domain.TokenTypeInvitation})
	require.NoError(t, err)

	ok, err := svc.MarkUsed(ctx, 100, res.TokenID)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := svc.Validate(ctx, res.Token, domain.TokenTypeInvitation)
	require.NoError(t, err)
	assert.True(t, v.IsValid)

	ok, err = svc.MarkUsed(ctx, 0, res.TokenID)
	require.NoError(t, err)
	assert.True(t, ok)
}
