package sync

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"or3sync/internal/app/server/api/http/httperr"
	"or3sync/internal/app/server/api/http/middleware/auth"
	syncdomain "or3sync/internal/domain/sync"
)

type Handler struct {
	service      syncdomain.Servicer
	maxPushBytes int64
	log          *slog.Logger
	middleware   huma.Middlewares
}

// NewHandler serves the sync operations. maxPushBytes caps the push
// request body; zero keeps huma's default.
func NewHandler(service syncdomain.Servicer, maxPushBytes int64, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:      service,
		maxPushBytes: maxPushBytes,
		log:          log.With("component", "sync_handler"),
		middleware:   middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.pushOp(), h.push)
	huma.Register(api, h.pullOp(), h.pull)
	huma.Register(api, h.cursorOp(), h.cursor)
	huma.Register(api, h.snapshotOp(), h.snapshot)
}

func (h *Handler) push(ctx context.Context, input *pushInput) (*pushOutput, error) {
	userID, _ := auth.GetUserID(ctx)
	resp, err := h.service.Push(ctx, userID, input.Body)
	if err != nil {
		return nil, httperr.From(h.log, err)
	}
	return &pushOutput{Body: resp}, nil
}

func (h *Handler) pull(ctx context.Context, input *pullInput) (*pullOutput, error) {
	userID, _ := auth.GetUserID(ctx)
	resp, err := h.service.Pull(ctx, userID, input.Body)
	if err != nil {
		return nil, httperr.From(h.log, err)
	}
	return &pullOutput{Body: resp}, nil
}

func (h *Handler) cursor(ctx context.Context, input *cursorInput) (*cursorOutput, error) {
	userID, _ := auth.GetUserID(ctx)
	resp, err := h.service.UpdateCursor(ctx, userID, input.Body)
	if err != nil {
		return nil, httperr.From(h.log, err)
	}
	return &cursorOutput{Body: resp}, nil
}

func (h *Handler) snapshot(ctx context.Context, input *snapshotInput) (*snapshotOutput, error) {
	userID, _ := auth.GetUserID(ctx)
	resp, err := h.service.Snapshot(ctx, userID, input.Body)
	if err != nil {
		return nil, httperr.From(h.log, err)
	}
	return &snapshotOutput{Body: resp}, nil
}
