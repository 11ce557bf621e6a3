// Package admin guards internal endpoints with a shared token.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

const Header = "X-Admin-Token"

type Admin struct {
	token []byte
	log   *slog.Logger
}

// New creates the guard. An empty token rejects every request.
func New(token string, log *slog.Logger) *Admin {
	return &Admin{
		token: []byte(token),
		log:   log.With("component", "admin_middleware"),
	}
}

func (a *Admin) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		got := []byte(ctx.Header(Header))
		if len(a.token) == 0 || subtle.ConstantTimeCompare(got, a.token) != 1 {
			a.log.Warn("admin token rejected", "path", ctx.URL().Path, "remote_addr", ctx.RemoteAddr())
			ctx.SetStatus(http.StatusForbidden)
			ctx.SetHeader("Content-Type", "application/json")
			if err := json.NewEncoder(ctx.BodyWriter()).Encode(map[string]string{
				"error": "Forbidden",
			}); err != nil {
				a.log.Error("encode response", "error", err)
			}
			return
		}
		next(ctx)
	}
}
