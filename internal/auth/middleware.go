package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/socialnet/backend/internal/errors"
)

type contextKey string

const UserContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
}

// Middleware requires a bearer access token and stores the caller in the
// request context.
func Middleware(authService *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := apperrors.GetRequestID(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("invalid authorization header format"))
				return
			}

			userCtx, err := authenticate(authService, parts[1])
			if err != nil {
				apperrors.WriteError(w, requestID, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userCtx)))
		})
	}
}

// authenticate validates a raw token and maps failures to API errors.
func authenticate(authService *Service, token string) (*UserContext, error) {
	claims, err := authService.ValidateAccessToken(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, apperrors.TokenExpired()
		}
		return nil, apperrors.InvalidToken("invalid access token")
	}
	return &UserContext{UserID: claims.UserID, Email: claims.Email}, nil
}

// Authenticate validates a token passed outside the Authorization header,
// such as the websocket ?token= query parameter.
func Authenticate(authService *Service, token string) (*UserContext, error) {
	if token == "" {
		return nil, apperrors.Unauthorized("missing token")
	}
	return authenticate(authService, token)
}

func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

func GetUserFromContext(ctx context.Context) *UserContext {
	user, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok {
		return nil
	}
	return user
}
