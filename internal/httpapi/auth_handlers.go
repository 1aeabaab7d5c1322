package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/feynmanlabs/feynman/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

// Context key for user data
type contextKey string

const userContextKey contextKey = "user"

// JWTClaims represents the claims in the JWT token
type JWTClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// AuthUser represents the authenticated user in request context
type AuthUser struct {
	ID    string
	Email string
}

// hashToken creates a SHA256 hash of the token for storage
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// bearerToken extracts the token from the Authorization header, falling back
// to the "token" query parameter for websocket clients that cannot set
// headers.
func bearerToken(req *http.Request) string {
	authHeader := req.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
		return ""
	}
	return req.URL.Query().Get("token")
}

// withAuth is middleware that requires valid JWT authentication
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tokenString := bearerToken(req)
		if tokenString == "" {
			http.Error(w, `{"error": "missing authorization"}`, http.StatusUnauthorized)
			return
		}

		// Parse and validate JWT
		token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(r.cfg.JWTSecret), nil
		})

		if err != nil || !token.Valid {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok {
			http.Error(w, `{"error": "invalid token claims"}`, http.StatusUnauthorized)
			return
		}

		// Check the token is still valid (not revoked)
		tokenHash := hashToken(tokenString)
		valid, err := r.store.IsTokenValid(req.Context(), tokenHash)
		if err != nil || !valid {
			http.Error(w, `{"error": "token expired or revoked"}`, http.StatusUnauthorized)
			return
		}

		// Add user to context
		user := &AuthUser{
			ID:    claims.UserID,
			Email: claims.Email,
		}
		ctx := context.WithValue(req.Context(), userContextKey, user)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// getAuthUser extracts the authenticated user from context
func getAuthUser(ctx context.Context) *AuthUser {
	user, _ := ctx.Value(userContextKey).(*AuthUser)
	return user
}

// generateJWT creates a new JWT token for a user
func (r *Router) generateJWT(user *store.User) (string, time.Time, error) {
	expiresAt := time.Now().Add(r.cfg.JWTExpiry)

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: user.ID,
		Email:  user.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// handleIssueToken exchanges an API key for a short-lived JWT.
func (r *Router) handleIssueToken(w http.ResponseWriter, req *http.Request) {
	var body struct {
		APIKey string `json:"api_key"`
	}

	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if body.APIKey == "" {
		http.Error(w, `{"error": "api_key is required"}`, http.StatusBadRequest)
		return
	}

	user, err := r.store.GetUserByAPIKeyHash(req.Context(), hashToken(body.APIKey))
	if err != nil {
		// Same response for unknown key and lookup failure; no oracle.
		http.Error(w, `{"error": "invalid api key"}`, http.StatusUnauthorized)
		return
	}

	tokenString, expiresAt, err := r.generateJWT(user)
	if err != nil {
		r.logger.Printf("auth: failed to generate JWT: %v", err)
		captureError(req, err, "auth: JWT generation failed")
		http.Error(w, `{"error": "failed to issue token"}`, http.StatusInternalServerError)
		return
	}

	if err := r.store.CreateToken(req.Context(), user.ID, hashToken(tokenString), expiresAt); err != nil {
		r.logger.Printf("auth: failed to persist token: %v", err)
		http.Error(w, `{"error": "failed to issue token"}`, http.StatusInternalServerError)
		return
	}

	if err := r.store.TouchUserLogin(req.Context(), user.ID); err != nil {
		r.logger.Printf("auth: failed to update last login: %v", err)
	}

	r.logger.Printf("auth: issued token for user %s", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tokenString,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"user":       user,
	})
}

// handleLogout revokes the presented token.
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	tokenString := bearerToken(req)
	if err := r.store.RevokeToken(req.Context(), hashToken(tokenString)); err != nil {
		r.logger.Printf("auth: failed to revoke token: %v", err)
		http.Error(w, `{"error": "failed to logout"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleGetMe returns the authenticated user's profile.
func (r *Router) handleGetMe(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	u, err := r.store.GetUserByID(req.Context(), user.ID)
	if err != nil {
		http.Error(w, `{"error": "user not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
