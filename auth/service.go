package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken signals a token that failed parsing, signature or claim checks.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrInvalidRole signals a role outside manager/vendor.
	ErrInvalidRole = errors.New("auth: invalid role")
)

// Service issues and verifies bearer tokens. Identity itself lives upstream;
// this service only trusts tokens signed with the shared secret.
type Service struct {
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewService creates a token service. A non-positive ttl falls back to 24h.
func NewService(jwtSecret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		now:       time.Now,
	}
}

// IssueToken signs a token for the subject acting in role.
func (s *Service) IssueToken(subjectID string, role Role) (string, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", fmt.Errorf("auth: subject is required")
	}
	if !isValidRole(role) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub":  subjectID,
		"role": string(role),
		"exp":  now.Add(s.ttl).Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a token and returns the principal it carries.
func (s *Service) VerifyToken(tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	roleStr, _ := claims["role"].(string)
	role := Role(roleStr)
	if !isValidRole(role) {
		return Principal{}, fmt.Errorf("%w: role %q", ErrInvalidToken, roleStr)
	}

	p := Principal{SubjectID: subject, Role: role}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	return p, nil
}

func isValidRole(role Role) bool {
	switch role {
	case RoleManager, RoleVendor:
		return true
	default:
		return false
	}
}
