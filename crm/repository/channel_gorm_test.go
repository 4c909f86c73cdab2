package repository

import (
	"context"
	"testing"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChannelRepo(t *testing.T) *ChannelGormRepository {
	t.Helper()
	repo := NewChannelGormRepository(newTestDB(t))
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func TestChannelTokensStoredEncrypted(t *testing.T) {
	require.NoError(t, crypto.SetEncryptionKey("clave-de-prueba"))

	repo := newChannelRepo(t)
	ctx := context.Background()

	ch := &domain.ChannelConnection{
		Alias:                 "Ventas Lima",
		ProviderPhoneNumberID: "123456789",
		DisplayNumber:         "+51999000001",
		AccessToken:           "EAAB-token-secreto",
		VerifyToken:           "verify-secreto",
		IsActive:              true,
		CreatedAt:             time.Now().UTC(),
		UpdatedAt:             time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, ch))

	// En la fila el token queda cifrado, en memoria vuelve en claro
	var raw channelModel
	require.NoError(t, repo.db.First(&raw, "id = ?", ch.ID).Error)
	assert.NotEqual(t, "EAAB-token-secreto", raw.AccessToken)
	assert.NotEqual(t, "verify-secreto", raw.VerifyToken)

	got, err := repo.GetByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "EAAB-token-secreto", got.AccessToken)
	assert.Equal(t, "verify-secreto", got.VerifyToken)
}

func TestGetByProviderPhoneID(t *testing.T) {
	repo := newChannelRepo(t)
	ctx := context.Background()

	ch := &domain.ChannelConnection{
		Alias:                 "Soporte",
		ProviderPhoneNumberID: "987654321",
		IsActive:              true,
		CreatedAt:             time.Now().UTC(),
		UpdatedAt:             time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, ch))

	got, err := repo.GetByProviderPhoneID(ctx, "987654321")
	require.NoError(t, err)
	assert.Equal(t, ch.ID, got.ID)

	_, err = repo.GetByProviderPhoneID(ctx, "000")
	require.Error(t, err)
}

func TestDuplicateProviderPhoneIDConflicts(t *testing.T) {
	repo := newChannelRepo(t)
	ctx := context.Background()

	base := &domain.ChannelConnection{
		Alias: "A", ProviderPhoneNumberID: "111",
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, base))

	dup := &domain.ChannelConnection{
		Alias: "B", ProviderPhoneNumberID: "111",
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	err := repo.Create(ctx, dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestMarkVerified(t *testing.T) {
	repo := newChannelRepo(t)
	ctx := context.Background()

	ch := &domain.ChannelConnection{
		Alias: "Ventas", ProviderPhoneNumberID: "222",
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, ch))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.MarkVerified(ctx, ch.ID, at))

	got, err := repo.GetByID(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastVerifiedAt)
	assert.WithinDuration(t, at, *got.LastVerifiedAt, time.Second)
}
