package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/sna-ai/sna/internal/models"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const identityContextKey contextKey = "identity"

// bcrypt silently truncates inputs beyond this length.
const bcryptMaxInput = 72

const apiKeyTokenPrefix = "sna_"

// ErrInvalidCredentials is returned for any login failure. The message is
// deliberately generic to prevent account enumeration.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Config holds token signing and bootstrap settings.
type Config struct {
	JWTSecret     string
	TokenDuration time.Duration
	// AdminAPIKey authorises admin endpoints without a user account.
	AdminAPIKey string
}

// UserStore is the account lookup surface the service needs.
// *database.UserRepository satisfies it.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, id int) error
}

// Identity is the authenticated principal attached to a request context.
type Identity struct {
	UserID  int
	Email   string
	IsAdmin bool
	// Synthetic marks the ADMIN_API_KEY bootstrap principal, which is
	// valid for admin endpoints only.
	Synthetic bool
}

// Service issues and verifies credentials for both authentication paths:
// JWTs for humans and hashed API keys for programmatic clients.
type Service struct {
	users  UserStore
	cfg    Config
	logger *slog.Logger
}

// NewService creates an auth service.
func NewService(users UserStore, cfg Config, logger *slog.Logger) *Service {
	if cfg.TokenDuration <= 0 {
		cfg.TokenDuration = 24 * time.Hour
	}
	return &Service{users: users, cfg: cfg, logger: logger}
}

// Claims is the JWT payload. Subject carries the user id.
type Claims struct {
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed JWT for the user.
func (s *Service) GenerateToken(user models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(user.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "sna",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// ValidateToken verifies a JWT and returns the identity it carries. Only
// HS256 is accepted.
func (s *Service) ValidateToken(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}
	userID, err := strconv.Atoi(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid token subject: %w", err)
	}
	return Identity{UserID: userID, Email: claims.Email, IsAdmin: claims.IsAdmin}, nil
}

// Login checks email/password and returns a fresh JWT.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || !user.IsActive || !CheckPassword(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.GenerateToken(*user)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return token, user, nil
}

// HashPassword hashes a password using bcrypt. Inputs longer than the
// bcrypt limit are pre-hashed with SHA-256 so no part of the password is
// silently ignored.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword(passwordBytes(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a password with a hash.
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), passwordBytes(password))
	return err == nil
}

func passwordBytes(password string) []byte {
	if len(password) <= bcryptMaxInput {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(sum[:]))
}

// NewAPIKeyToken mints a key token. The plaintext is returned once; only
// its SHA-256 and display prefix are meant to be stored.
func NewAPIKeyToken() (plaintext, keyHash, keyPrefix string, err error) {
	buf := make([]byte, 16)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("failed to generate api key: %w", err)
	}
	plaintext = apiKeyTokenPrefix + hex.EncodeToString(buf)
	return plaintext, HashAPIKey(plaintext), plaintext[:models.APIKeyPrefixLen], nil
}

// HashAPIKey returns the hex SHA-256 of a presented token.
func HashAPIKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Authenticate resolves the request's credentials into an Identity and
// stores it on the context. X-API-Key wins when both are presented.
func (s *Service) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("X-API-Key"); key != "" {
			identity, ok := s.authenticateAPIKey(r.Context(), key)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeAuthError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeAuthError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		identity, err := s.ValidateToken(parts[1])
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func (s *Service) authenticateAPIKey(ctx context.Context, key string) (Identity, bool) {
	if s.cfg.AdminAPIKey != "" && key == s.cfg.AdminAPIKey {
		return Identity{UserID: 0, Email: "admin@local", IsAdmin: true, Synthetic: true}, true
	}

	record, err := s.users.GetAPIKeyByHash(ctx, HashAPIKey(key))
	if err != nil {
		s.logger.Error("api key lookup failed", "error", err)
		return Identity{}, false
	}
	if record == nil {
		return Identity{}, false
	}

	user, err := s.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		s.logger.Error("api key user lookup failed", "error", err, "user_id", record.UserID)
		return Identity{}, false
	}
	if user == nil || !user.IsActive {
		return Identity{}, false
	}

	if err := s.users.TouchAPIKey(ctx, record.ID); err != nil {
		s.logger.Warn("failed to record api key use", "error", err, "key_id", record.ID)
	}
	return Identity{UserID: user.ID, Email: user.Email, IsAdmin: user.IsAdmin}, true
}

// RequireUser guards user-scoped endpoints. The synthetic admin has no
// account behind it and is rejected here.
func (s *Service) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := GetIdentity(r.Context())
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if identity.Synthetic {
			writeAuthError(w, http.StatusForbidden, "Admin API key cannot access user endpoints")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin guards admin endpoints.
func (s *Service) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := GetIdentity(r.Context())
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if !identity.IsAdmin {
			writeAuthError(w, http.StatusForbidden, "Admin privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithIdentity returns a copy of ctx carrying the authenticated principal.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// GetIdentity extracts the authenticated principal from the request context.
func GetIdentity(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(Identity)
	return identity, ok
}

func writeAuthError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
