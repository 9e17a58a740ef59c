package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"courseflow/course"
)

var (
	// ErrInvalidToken signals a token that failed parsing or claim checks.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrRoleMismatch signals a token whose role differs from the reviewer directory.
	ErrRoleMismatch = errors.New("auth: token role does not match reviewer")
)

const defaultTokenTTL = 12 * time.Hour

// Service verifies reviewer bearer tokens.
type Service struct {
	repo      Repository
	jwtSecret []byte
	now       func() time.Time
}

// NewService creates a new authentication service. repo may be nil, in which
// case Authenticate trusts the token claims.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

// VerifyToken validates an HS256 token and returns the reviewer it names.
// The reviewer id comes from "reviewer_id", falling back to "sub".
func (s *Service) VerifyToken(tokenString string) (course.Reviewer, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired(), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return course.Reviewer{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return course.Reviewer{}, ErrInvalidToken
	}

	reviewerID, _ := claims["reviewer_id"].(string)
	if reviewerID == "" {
		reviewerID, _ = claims["sub"].(string)
	}
	if _, err := uuid.Parse(reviewerID); err != nil {
		return course.Reviewer{}, fmt.Errorf("%w: reviewer id %q", ErrInvalidToken, reviewerID)
	}

	roleStr, _ := claims["role"].(string)
	role := course.Role(roleStr)
	if !role.Valid() {
		return course.Reviewer{}, fmt.Errorf("%w: %w %q", ErrInvalidToken, course.ErrInvalidRole, roleStr)
	}

	return course.Reviewer{ID: reviewerID, Role: role}, nil
}

// Authenticate verifies the token and, when a repository is configured, checks
// that the reviewer exists and still holds the role the token claims.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (course.Reviewer, error) {
	reviewer, err := s.VerifyToken(tokenString)
	if err != nil {
		return course.Reviewer{}, err
	}
	if s.repo == nil {
		return reviewer, nil
	}

	account, err := s.repo.GetReviewer(ctx, reviewer.ID)
	if err != nil {
		return course.Reviewer{}, err
	}
	if account.Role != reviewer.Role {
		return course.Reviewer{}, fmt.Errorf("%w: token %s, directory %s", ErrRoleMismatch, reviewer.Role, account.Role)
	}
	return reviewer, nil
}

// Account returns the directory entry of an authenticated reviewer.
func (s *Service) Account(ctx context.Context, reviewerID string) (Account, error) {
	if s.repo == nil {
		return Account{}, ErrReviewerNotFound
	}
	return s.repo.GetReviewer(ctx, reviewerID)
}

// IssueToken signs a token for reviewer. It backs operator tooling; the API
// never issues credentials.
func (s *Service) IssueToken(reviewer course.Reviewer, ttl time.Duration) (string, error) {
	if !reviewer.Role.Valid() {
		return "", fmt.Errorf("auth: %w %q", course.ErrInvalidRole, reviewer.Role)
	}
	if _, err := uuid.Parse(reviewer.ID); err != nil {
		return "", fmt.Errorf("auth: reviewer id %q: %w", reviewer.ID, err)
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub":         reviewer.ID,
		"reviewer_id": reviewer.ID,
		"role":        string(reviewer.Role),
		"exp":         now.Add(ttl).Unix(),
		"iat":         now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
