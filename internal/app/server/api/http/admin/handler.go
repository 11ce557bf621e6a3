// Package admin exposes internal maintenance operations.
package admin

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"or3sync/internal/app/server/api/http/httperr"
	syncdomain "or3sync/internal/domain/sync"
)

// Collector is the garbage collection half of the sync gateway.
type Collector interface {
	GCTombstones(ctx context.Context, req syncdomain.GCRequest) (*syncdomain.GCResult, error)
	GCChangeLog(ctx context.Context, req syncdomain.GCRequest) (*syncdomain.GCResult, error)
}

type Handler struct {
	gc         Collector
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(gc Collector, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		gc:         gc,
		log:        log.With("component", "admin_handler"),
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.gcTombstonesOp(), h.gcTombstones)
	huma.Register(api, h.gcChangeLogOp(), h.gcChangeLog)
}

func (h *Handler) gcTombstones(ctx context.Context, input *gcInput) (*gcOutput, error) {
	res, err := h.gc.GCTombstones(ctx, input.Body)
	if err != nil {
		return nil, httperr.From(h.log, err)
	}
	return &gcOutput{Body: res}, nil
}

func (h *Handler) gcChangeLog(ctx context.Context, input *gcInput) (*gcOutput, error) {
	res, err := h.gc.GCChangeLog(ctx, input.Body)
	if err != nil {
		return nil, httperr.From(h.log, err)
	}
	return &gcOutput{Body: res}, nil
}
