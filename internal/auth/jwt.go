package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "researchd"

var (
	// ErrMissingToken is returned when a handshake carries no token.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken is returned for tokens that fail validation.
	ErrInvalidToken = errors.New("invalid token")
)

// Config enables handshake authentication.
type Config struct {
	Enabled    bool          `mapstructure:"enabled"`
	SigningKey string        `mapstructure:"signing_key"`
	Issuer     string        `mapstructure:"issuer"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

// JWTManager handles JWT token operations
type JWTManager struct {
	signingKey []byte
	expiry     time.Duration
	issuer     string
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(cfg Config) (*JWTManager, error) {
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("auth: signing key is required")
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = defaultIssuer
	}
	expiry := cfg.TokenTTL
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &JWTManager{signingKey: []byte(cfg.SigningKey), expiry: expiry, issuer: issuer}, nil
}

// Claims are the researchd token claims.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// UserContext is the authenticated identity of a connection.
type UserContext struct {
	UserID   string
	Username string
	Expires  time.Time
}

// Generate mints an HS256 token for userID.
func (j *JWTManager) Generate(userID, username string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("auth: user id is required")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Username: username,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.signingKey)
}

// Validate parses and validates a token.
func (j *JWTManager) Validate(tokenString string) (*UserContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.signingKey, nil
	}, jwt.WithIssuer(j.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	uc := &UserContext{UserID: claims.Subject, Username: claims.Username}
	if claims.ExpiresAt != nil {
		uc.Expires = claims.ExpiresAt.Time
	}
	return uc, nil
}

// Authenticate validates the token on a handshake request, read from the
// Authorization header or the token query parameter.
func (j *JWTManager) Authenticate(r *http.Request) (*UserContext, error) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		t, err := ExtractBearerToken(h)
		if err != nil {
			return nil, err
		}
		token = t
	}
	if token == "" {
		return nil, ErrMissingToken
	}
	return j.Validate(token)
}

// ExtractBearerToken extracts the token from Authorization header
func ExtractBearerToken(authHeader string) (string, error) {
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
		return "", fmt.Errorf("%w: invalid authorization header format", ErrInvalidToken)
	}
	return strings.TrimSpace(authHeader[7:]), nil
}
