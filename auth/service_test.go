package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"courseflow/course"
)

const (
	testSecret = "test-secret"
	localID    = "7d3f3c1e-2a53-4c1c-9d6b-2f0a7e4a1b01"
	centralID  = "b8f0d2a4-6c71-4e59-8a3e-0c9e5d7f2b02"
	unknownID  = "00000000-0000-4000-8000-000000000000"
)

func signed(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestService_IssueAndVerify(t *testing.T) {
	svc := NewService(nil, testSecret)

	token, err := svc.IssueToken(course.Reviewer{ID: localID, Role: course.RoleLocalReviewer}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	reviewer, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if reviewer.ID != localID || reviewer.Role != course.RoleLocalReviewer {
		t.Fatalf("unexpected reviewer %+v", reviewer)
	}
}

func TestService_VerifyTokenSubjectFallback(t *testing.T) {
	svc := NewService(nil, testSecret)
	token := signed(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub":  centralID,
		"role": "central_reviewer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	reviewer, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if reviewer.ID != centralID || reviewer.Role != course.RoleCentralReviewer {
		t.Fatalf("unexpected reviewer %+v", reviewer)
	}
}

func TestService_VerifyTokenRejections(t *testing.T) {
	svc := NewService(nil, testSecret)
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name  string
		token string
		role  bool
	}{
		{
			name:  "wrong secret",
			token: signed(t, jwt.SigningMethodHS256, "other", jwt.MapClaims{"sub": localID, "role": "local_reviewer", "exp": future}),
		},
		{
			name:  "wrong algorithm",
			token: signed(t, jwt.SigningMethodHS512, testSecret, jwt.MapClaims{"sub": localID, "role": "local_reviewer", "exp": future}),
		},
		{
			name:  "expired",
			token: signed(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": localID, "role": "local_reviewer", "exp": time.Now().Add(-time.Minute).Unix()}),
		},
		{
			name:  "missing expiry",
			token: signed(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": localID, "role": "local_reviewer"}),
		},
		{
			name:  "non uuid subject",
			token: signed(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "alice", "role": "local_reviewer", "exp": future}),
		},
		{
			name:  "unknown role",
			token: signed(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": localID, "role": "auditor", "exp": future}),
			role:  true,
		},
		{
			name:  "garbage",
			token: "not-a-token",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.VerifyToken(tc.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
			if tc.role && !errors.Is(err, course.ErrInvalidRole) {
				t.Fatalf("expected ErrInvalidRole in chain, got %v", err)
			}
		})
	}
}

func TestService_AuthenticateChecksDirectory(t *testing.T) {
	repo := newFakeRepository(
		Account{ID: localID, FullName: "Lena Local", Role: course.RoleLocalReviewer},
		Account{ID: centralID, FullName: "Cyril Central", Role: course.RoleCentralReviewer},
	)
	svc := NewService(repo, testSecret)
	ctx := context.Background()

	token, _ := svc.IssueToken(course.Reviewer{ID: localID, Role: course.RoleLocalReviewer}, time.Hour)
	reviewer, err := svc.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if reviewer.ID != localID {
		t.Fatalf("unexpected reviewer %+v", reviewer)
	}

	forged, _ := svc.IssueToken(course.Reviewer{ID: localID, Role: course.RoleCentralReviewer}, time.Hour)
	if _, err := svc.Authenticate(ctx, forged); !errors.Is(err, ErrRoleMismatch) {
		t.Fatalf("expected ErrRoleMismatch, got %v", err)
	}

	ghost, _ := svc.IssueToken(course.Reviewer{ID: unknownID, Role: course.RoleLocalReviewer}, time.Hour)
	if _, err := svc.Authenticate(ctx, ghost); !errors.Is(err, ErrReviewerNotFound) {
		t.Fatalf("expected ErrReviewerNotFound, got %v", err)
	}

	account, err := svc.Account(ctx, centralID)
	if err != nil || account.FullName != "Cyril Central" {
		t.Fatalf("expected central account, got %+v err=%v", account, err)
	}
	if account.Reviewer().Role != course.RoleCentralReviewer {
		t.Fatalf("unexpected reviewer from account %+v", account.Reviewer())
	}
}

func TestService_IssueTokenValidation(t *testing.T) {
	svc := NewService(nil, testSecret)
	if _, err := svc.IssueToken(course.Reviewer{ID: localID, Role: "auditor"}, time.Hour); !errors.Is(err, course.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := svc.IssueToken(course.Reviewer{ID: "alice", Role: course.RoleLocalReviewer}, time.Hour); err == nil {
		t.Fatal("expected error for non uuid reviewer id")
	}

	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	token, err := svc.IssueToken(course.Reviewer{ID: localID, Role: course.RoleLocalReviewer}, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	svc.now = func() time.Time { return fixed.Add(defaultTokenTTL + time.Minute) }
	if _, err := svc.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected default ttl to expire the token, got %v", err)
	}
}

type fakeRepository struct {
	accounts map[string]Account
}

func newFakeRepository(accounts ...Account) *fakeRepository {
	repo := &fakeRepository{accounts: make(map[string]Account)}
	for _, a := range accounts {
		repo.accounts[a.ID] = a
	}
	return repo
}

func (f *fakeRepository) GetReviewer(ctx context.Context, reviewerID string) (Account, error) {
	account, ok := f.accounts[reviewerID]
	if !ok {
		return Account{}, ErrReviewerNotFound
	}
	return account, nil
}
