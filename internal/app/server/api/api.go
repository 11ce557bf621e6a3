// Package api assembles the HTTP surface of the sync server.
//
//	GET  /api/v1/health                 liveness (public)
//	POST /user/register, /user/login    accounts (public)
//	POST /api/workspaces                create workspace (auth)
//	GET  /api/workspaces                list memberships (auth)
//	POST /api/workspaces/{id}/members   grant access (auth, owner)
//	POST /api/sync/push|pull|cursor     sync protocol (auth)
//	POST /admin/gc/tombstones|changelog bounded GC (X-Admin-Token)
//	GET  /metrics                       Prometheus
package api

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"

	adminAPI "or3sync/internal/app/server/api/http/admin"
	healthAPI "or3sync/internal/app/server/api/http/health"
	"or3sync/internal/app/server/api/http/middleware"
	"or3sync/internal/app/server/api/http/middleware/admin"
	"or3sync/internal/app/server/api/http/middleware/auth"
	"or3sync/internal/app/server/api/http/middleware/logger"
	syncAPI "or3sync/internal/app/server/api/http/sync"
	userAPI "or3sync/internal/app/server/api/http/user"
	workspaceAPI "or3sync/internal/app/server/api/http/workspace"
	"or3sync/internal/domain/access"
	"or3sync/internal/domain/session"
	syncdomain "or3sync/internal/domain/sync"
	"or3sync/internal/domain/user"
	"or3sync/internal/metrics"
)

// Services are the domain collaborators behind the handlers.
type Services struct {
	Backend   string
	Users     user.Servicer
	Sessions  session.Servicer
	Access    access.Servicer
	Sync      syncdomain.Servicer
	Collector adminAPI.Collector
}

type Options struct {
	AdminToken     string
	RequestTimeout time.Duration
	MaxPushBytes   int64
}

type Handlers struct {
	Health    *healthAPI.Handler
	User      *userAPI.Handler
	Workspace *workspaceAPI.Handler
	Sync      *syncAPI.Handler
	Admin     *adminAPI.Handler
}

// New creates a *chi.Mux with every operation registered through huma.
func New(svc Services, opts Options, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	if opts.RequestTimeout > 0 {
		mux.Use(chimw.Timeout(opts.RequestTimeout))
	}
	mux.Method(http.MethodGet, "/metrics", metrics.Handler())

	config := huma.DefaultConfig("or3sync API", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
		"admin":  {Type: "apiKey", In: "header", Name: admin.Header},
	}

	API := humachi.New(mux, config)

	h := handlers(svc, opts, log)
	h.Health.SetupRoutes(API)
	h.User.SetupRoutes(API)
	h.Workspace.SetupRoutes(API)
	h.Sync.SetupRoutes(API)
	h.Admin.SetupRoutes(API)

	return mux
}

func handlers(svc Services, opts Options, log *slog.Logger) *Handlers {
	authMW := auth.New(svc.Sessions, log)
	adminMW := admin.New(opts.AdminToken, log)
	loggerMW := logger.New(log)
	middlewares := middleware.NewContainer()

	middlewares.Add(loggerMW.Middleware())
	healthHandler := healthAPI.NewHandler(svc.Backend, log, middlewares.GetAllAndClear())

	middlewares.Add(loggerMW.Middleware())
	userHandler := userAPI.NewHandler(svc.Users, svc.Sessions, log, middlewares.GetAllAndClear())

	middlewares.Add(loggerMW.Middleware())
	middlewares.Add(authMW.Middleware())
	workspaceHandler := workspaceAPI.NewHandler(svc.Access, log, middlewares.GetAllAndClear())

	middlewares.Add(loggerMW.Middleware())
	middlewares.Add(authMW.Middleware())
	syncHandler := syncAPI.NewHandler(svc.Sync, opts.MaxPushBytes, log, middlewares.GetAllAndClear())

	middlewares.Add(loggerMW.Middleware())
	middlewares.Add(adminMW.Middleware())
	adminHandler := adminAPI.NewHandler(svc.Collector, log, middlewares.GetAllAndClear())

	return &Handlers{
		Health:    healthHandler,
		User:      userHandler,
		Workspace: workspaceHandler,
		Sync:      syncHandler,
		Admin:     adminHandler,
	}
}
