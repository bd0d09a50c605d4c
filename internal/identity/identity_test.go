package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldworks/chatline/internal/store/memstore"
)

func TestRegisterAuthenticateLookup(t *testing.T) {
	svc := NewService(memstore.New())
	ctx := context.Background()
	now := time.Now().UnixMilli()

	user, err := svc.Register(ctx, "Ada@Example.com", "s3cret", now)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", user.Email)
	require.NotEmpty(t, user.UserID)
	require.NotEqual(t, "s3cret", user.PasswordHash)

	got, err := svc.Authenticate(ctx, "ada@example.com", "s3cret")
	require.NoError(t, err)
	require.Equal(t, user.UserID, got.UserID)

	_, err = svc.Authenticate(ctx, "ada@example.com", "wrong")
	require.ErrorIs(t, err, ErrBadCredentials)

	looked, err := svc.Lookup(ctx, user.UserID)
	require.NoError(t, err)
	require.Equal(t, user.Email, looked.Email)

	_, err = svc.Lookup(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := NewService(memstore.New())
	ctx := context.Background()

	_, err := svc.Register(ctx, "dup@example.com", "one", time.Now().UnixMilli())
	require.NoError(t, err)

	_, err = svc.Register(ctx, "DUP@example.com", "two", time.Now().UnixMilli())
	require.ErrorIs(t, err, ErrEmailTaken)
}
