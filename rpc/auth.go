package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"commitvault/core/types"
)

// AuthConfig configures caller token verification. Tokens are HS256 JWTs
// whose subject is the caller address.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	ClockSkew  time.Duration
	// Now overrides the verification clock in tests.
	Now func() time.Time
}

var (
	errMissingBearer = errors.New("missing bearer token")
	errAuthDisabled  = errors.New("caller authentication not configured")
)

// Verifier resolves the caller identity of a request.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier builds a verifier. An empty secret yields a verifier that
// rejects every token, leaving only anonymous methods usable.
func NewVerifier(cfg AuthConfig) (*Verifier, error) {
	if cfg.ClockSkew < 0 {
		return nil, fmt.Errorf("rpc auth: negative clock skew")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if issuer := strings.TrimSpace(cfg.Issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}
	return &Verifier{
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Caller returns the address named by the request's bearer token.
func (v *Verifier) Caller(r *http.Request) (types.Address, error) {
	if v == nil || len(v.secret) == 0 {
		return types.Address{}, errAuthDisabled
	}
	token := extractBearer(r.Header.Get("Authorization"))
	if token == "" {
		return types.Address{}, errMissingBearer
	}
	return v.Verify(token)
}

// Verify parses token and returns its subject address.
func (v *Verifier) Verify(token string) (types.Address, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return types.Address{}, err
	}
	if !parsed.Valid {
		return types.Address{}, errors.New("token invalid")
	}
	caller, err := types.ParseAddress(claims.Subject)
	if err != nil {
		return types.Address{}, fmt.Errorf("token subject: %w", err)
	}
	return caller, nil
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// authFailureReason reduces a verification error to a stable label for logs.
func authFailureReason(err error) string {
	switch {
	case errors.Is(err, errAuthDisabled):
		return "auth_disabled"
	case errors.Is(err, errMissingBearer):
		return "missing_bearer"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "bad_issuer"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing_claim"
	default:
		return "invalid_token"
	}
}
