package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const accountIDKey contextKey = "account_id"

// ExtractAPIKey extracts an API key from an Authorization: Bearer <key> header.
func ExtractAPIKey(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	key := strings.TrimSpace(auth[len(prefix):])
	if key == "" {
		return "", errors.New("missing API key")
	}
	return key, nil
}

// lookupAccount resolves a bearer token to an account id. Every configured
// token is compared in constant time without early exit, so response timing
// does not reveal which tokens exist.
func lookupAccount(providedKey string, tokens map[string]string) (string, bool) {
	accountID := ""
	found := false
	for token, account := range tokens {
		if len(token) == len(providedKey) &&
			subtle.ConstantTimeCompare([]byte(token), []byte(providedKey)) == 1 {
			accountID = account
			found = true
		}
	}
	return accountID, found
}

// authMiddleware validates the bearer token and stashes the account id.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, err := ExtractAPIKey(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		accountID, ok := lookupAccount(apiKey, s.cfg.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestAccountID returns the account id set by authMiddleware.
func requestAccountID(r *http.Request) string {
	id, _ := r.Context().Value(accountIDKey).(string)
	return id
}
