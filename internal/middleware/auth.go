package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// AuthError describes why a request carried no usable session.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string { return e.Message }

type JWTAuth struct {
	Secret []byte
}

func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{Secret: []byte(secret)}
}

// GenerateAccessToken creates a session token for userID valid for ttl.
func (j *JWTAuth) GenerateAccessToken(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// ParseToken verifies a session token and returns the user it was issued to.
func (j *JWTAuth) ParseToken(tokenStr string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, &AuthError{Code: "TOKEN_EXPIRED", Message: "Token has expired"}
		}
		return uuid.Nil, &AuthError{Code: "UNAUTHORIZED", Message: "Invalid token"}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, &AuthError{Code: "UNAUTHORIZED", Message: "Invalid token claims"}
	}

	userIDStr, ok := claims["user_id"].(string)
	if !ok {
		return uuid.Nil, &AuthError{Code: "UNAUTHORIZED", Message: "Invalid user ID in token"}
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, &AuthError{Code: "UNAUTHORIZED", Message: "Invalid user ID format"}
	}
	return userID, nil
}

// Authenticate reads the bearer token of r.
func (j *JWTAuth) Authenticate(r *http.Request) (uuid.UUID, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return uuid.Nil, &AuthError{Code: "UNAUTHORIZED", Message: "Missing authorization header"}
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return uuid.Nil, &AuthError{Code: "UNAUTHORIZED", Message: "Invalid authorization format"}
	}

	return j.ParseToken(parts[1])
}

// Middleware validates JWT and attaches user_id to context
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := j.Authenticate(r)
		if err != nil {
			code, message := "UNAUTHORIZED", "Unauthorized"
			var ae *AuthError
			if errors.As(err, &ae) {
				code, message = ae.Code, ae.Message
			}
			writeError(w, http.StatusUnauthorized, code, message, r)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional attaches user_id when the request carries a valid token and
// otherwise passes the request through untouched. Handlers that answer 401
// in their own format check GetUserID themselves.
func (j *JWTAuth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID, err := j.Authenticate(r); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), UserIDKey, userID))
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserID extracts user_id from request context
func GetUserID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(UserIDKey).(uuid.UUID)
	return id
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	requestID := r.Header.Get(RequestIDHeader)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": requestID,
		},
	})
}
