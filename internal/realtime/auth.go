package realtime

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	subprotocolVersion = "fyreflow.realtime.v1"
	subprotocolAuthPfx = "fyreflow-auth."

	subscriptionTokenTTL = 5 * time.Minute
)

// subscriptionClaims records the run a realtime subscription token was
// issued for in its rid claim. authenticate checks only the signature and
// expiry; the rid claim is not compared against the runs a connection
// subscribes to.
type subscriptionClaims struct {
	jwt.RegisteredClaims
	RunID string `json:"rid,omitempty"`
}

// IssueSubscriptionToken mints a short-lived token carrying runID, signed
// with apiToken as the HMAC secret. Callers embed it in the
// Sec-WebSocket-Protocol auth subprotocol rather than exposing the raw
// long-lived API_AUTH_TOKEN to a page that may log its WebSocket headers.
func IssueSubscriptionToken(apiToken, runID string) (string, error) {
	now := time.Now()
	claims := subscriptionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(subscriptionTokenTTL)),
		},
		RunID: runID,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(apiToken))
}

// validateSubscriptionToken verifies a token minted by IssueSubscriptionToken.
func validateSubscriptionToken(apiToken, tokenString string) (*subscriptionClaims, error) {
	var claims subscriptionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(apiToken), nil
	})
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

// authenticate checks either a static "Authorization: Bearer <token>"
// header or the "fyreflow-auth.<base64url(payload)>" entry of the
// Sec-WebSocket-Protocol list, per spec.md §6. The payload may be either
// the raw apiToken (bearer-equivalent) or a token from
// IssueSubscriptionToken; either is accepted so long as it verifies
// against apiToken. Returns the negotiated subprotocol to echo back
// (empty if none) and whether auth succeeded.
func authenticate(r *http.Request, apiToken string) (negotiated string, ok bool) {
	if apiToken == "" {
		return "", true
	}

	if tok := bearerToken(r); tok != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(apiToken)) == 1 {
		return "", true
	}

	for _, proto := range websocketProtocols(r) {
		if proto == subprotocolVersion {
			negotiated = subprotocolVersion
			continue
		}
		if !strings.HasPrefix(proto, subprotocolAuthPfx) {
			continue
		}
		encoded := strings.TrimPrefix(proto, subprotocolAuthPfx)
		decoded, err := base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		payload := string(decoded)
		if subtle.ConstantTimeCompare([]byte(payload), []byte(apiToken)) == 1 {
			return negotiated, true
		}
		if _, err := validateSubscriptionToken(apiToken, payload); err == nil {
			return negotiated, true
		}
	}
	return negotiated, false
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func websocketProtocols(r *http.Request) []string {
	raw := r.Header.Get("Sec-WebSocket-Protocol")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
