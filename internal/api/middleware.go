package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/lecture-qa/internal/auth"
	"go.uber.org/zap"
)

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

// tokenFromRequest looks for a token in the session cookie, then the
// Authorization header, then the token query parameter.
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value
	}

	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}

	return r.URL.Query().Get("token")
}

func (s *LectureApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Error("panic", zap.String("path", r.URL.Path), zap.Error(panicError))
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *LectureApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.codec.Verify(tokenFromRequest(r))
		if err != nil {
			s.log.Debug("rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(WithIdentity(r.Context(), id)))
	}
}
