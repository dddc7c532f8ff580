package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type fakeRepo struct {
	users map[string]User
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]User)}
}

func (f *fakeRepo) CreateUser(_ context.Context, params CreateUserParams) (User, error) {
	if _, ok := f.users[params.Email]; ok {
		return User{}, ErrEmailTaken
	}
	u := User{
		ID:           "user-" + params.Email,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	f.users[params.Email] = u
	return u, nil
}

func (f *fakeRepo) GetUserByEmail(_ context.Context, email string) (User, error) {
	u, ok := f.users[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeRepo) GetUserByID(_ context.Context, id string) (User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func TestRegisterAndLogin_RoundTrip(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, "unit-secret")

	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "Alice@Example.com",
		FullName: "Alice",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct-horse")); err != nil {
		t.Fatalf("expected bcrypt hash of password: %v", err)
	}

	result, err := svc.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	userID, err := svc.VerifyToken(result.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if userID != user.ID {
		t.Fatalf("expected user id %s, got %s", user.ID, userID)
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	svc := NewService(newFakeRepo(), "unit-secret")
	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "bob@example.com",
		FullName: "Bob",
		Password: "short",
	}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, "unit-secret")
	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "bob@example.com",
		FullName: "Bob",
		Password: "correct-horse",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Login(context.Background(), LoginRequest{Email: "bob@example.com", Password: "battery-staple"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_UnknownUserLooksLikeBadCredentials(t *testing.T) {
	svc := NewService(newFakeRepo(), "unit-secret")
	if _, err := svc.Login(context.Background(), LoginRequest{Email: "ghost@example.com", Password: "whatever"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyToken_RejectsForeignSecret(t *testing.T) {
	repo := newFakeRepo()
	issuer := NewService(repo, "secret-a")
	verifier := NewService(repo, "secret-b")

	if _, err := issuer.Register(context.Background(), RegisterRequest{
		Email:    "carol@example.com",
		FullName: "Carol",
		Password: "correct-horse",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	result, err := issuer.Login(context.Background(), LoginRequest{Email: "carol@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := verifier.VerifyToken(result.Token); err == nil {
		t.Fatalf("expected token signed with another secret to fail")
	}
}
