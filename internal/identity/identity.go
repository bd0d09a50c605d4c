// Package identity owns user principals: registration, password checks and
// the Directory lookup the chat core uses to confirm a requester is a known
// principal. The chat core never mutates identity data.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/fieldworks/chatline/internal/store"
)

const (
	collectionUsers  = "users"
	collectionEmails = "user_emails"
)

var (
	ErrNotFound       = errors.New("identity: user not found")
	ErrEmailTaken     = errors.New("identity: email already registered")
	ErrBadCredentials = errors.New("identity: bad credentials")
)

// User is a principal. PasswordHash never leaves this package through the
// HTTP layer.
type User struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	CreatedAt    int64  `json:"created_at"`
}

// Directory is the lookup interface the chat core consumes.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*User, error)
}

// emailClaim reserves an address via a create-only write, giving email
// uniqueness without cross-document transactions.
type emailClaim struct {
	Email  string `json:"email"`
	UserID string `json:"user_id"`
}

type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Register creates a user. The email claim is written first; if the user doc
// write then fails the claim is orphaned, which only blocks re-registration
// of that address and is reported as ErrEmailTaken on retry.
func (s *Service) Register(ctx context.Context, email, password string, now int64) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrBadCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &User{
		UserID:       ulid.Make().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}

	claimDoc, err := store.Encode(emailClaim{Email: email, UserID: user.UserID})
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, collectionEmails, email, claimDoc, store.ModeCreate); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	userDoc, err := store.Encode(user)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, collectionUsers, user.UserID, userDoc, store.ModeCreate); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate resolves the email claim and verifies the password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	claimDoc, err := s.store.Get(ctx, collectionEmails, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	var claim emailClaim
	if err := store.Decode(claimDoc, &claim); err != nil {
		return nil, err
	}
	user, err := s.Lookup(ctx, claim.UserID)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	return user, nil
}

// Lookup implements Directory.
func (s *Service) Lookup(ctx context.Context, userID string) (*User, error) {
	doc, err := s.store.Get(ctx, collectionUsers, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var user User
	if err := store.Decode(doc, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
