package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bankrecon/internal/shared/clock"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

const DefaultTTL = 12 * time.Hour

// Claims identify the caller. Every API operation is scoped to TenantID;
// Subject is recorded as the audit actor.
type Claims struct {
	TenantID string `json:"tenantId"`
	Subject  string `json:"sub"`
	Exp      int64  `json:"exp"`
	Iat      int64  `json:"iat"`
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type JWT struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewJWT(secret string, ttl time.Duration, clk clock.Clock) *JWT {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &JWT{secret: []byte(secret), ttl: ttl, clock: clk}
}

func (j *JWT) Generate(tenantID, subject string) (string, error) {
	if tenantID == "" || subject == "" {
		return "", fmt.Errorf("tenant and subject are required")
	}
	now := j.clock.Now()
	claims := Claims{
		TenantID: tenantID,
		Subject:  subject,
		Iat:      now.Unix(),
		Exp:      now.Add(j.ttl).Unix(),
	}

	headerJSON, err := json.Marshal(header{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", fmt.Errorf("failed to marshal header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}

	message := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(claimsJSON)
	return message + "." + j.sign(message), nil
}

func (j *JWT) Validate(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: malformed", ErrInvalidToken)
	}

	message := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(j.sign(message))) {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidToken)
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header encoding", ErrInvalidToken)
	}
	var h header
	if err := json.Unmarshal(headerJSON, &h); err != nil || h.Alg != "HS256" {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrInvalidToken)
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: claims encoding", ErrInvalidToken)
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("%w: claims", ErrInvalidToken)
	}
	if claims.TenantID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing tenant or subject", ErrInvalidToken)
	}

	if j.clock.Now().Unix() > claims.Exp {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

func (j *JWT) sign(message string) string {
	h := hmac.New(sha256.New, j.secret)
	h.Write([]byte(message))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
