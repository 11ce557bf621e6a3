package workspace

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"or3sync/internal/app/server/api/http/httperr"
	"or3sync/internal/app/server/api/http/middleware/auth"
	"or3sync/internal/domain/access"
	syncdomain "or3sync/internal/domain/sync"
)

type Handler struct {
	service    access.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service access.Servicer, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log.With("component", "workspace_handler"),
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.createOp(), h.create)
	huma.Register(api, h.listOp(), h.list)
	huma.Register(api, h.addMemberOp(), h.addMember)
}

func (h *Handler) create(ctx context.Context, input *createInput) (*createOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, httperr.From(h.log, syncdomain.ErrUnauthenticated)
	}

	ws, err := h.service.CreateWorkspace(ctx, userID, input.Body.Name)
	if err != nil {
		return nil, httperr.From(h.log, err)
	}
	return &createOutput{Body: CreateResponse{ID: ws.ID, Name: ws.Name, Role: access.RoleOwner}}, nil
}

func (h *Handler) list(ctx context.Context, _ *listInput) (*listOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, httperr.From(h.log, syncdomain.ErrUnauthenticated)
	}

	ms, err := h.service.Workspaces(ctx, userID)
	if err != nil {
		return nil, httperr.From(h.log, err)
	}
	if ms == nil {
		ms = []access.Membership{}
	}
	return &listOutput{Body: ListResponse{Workspaces: ms}}, nil
}

func (h *Handler) addMember(ctx context.Context, input *addMemberInput) (*addMemberOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, httperr.From(h.log, syncdomain.ErrUnauthenticated)
	}

	if err := h.service.AddMember(ctx, userID, input.ID, input.Body.UserID, input.Body.Role); err != nil {
		return nil, httperr.From(h.log, err)
	}
	return &addMemberOutput{Body: AddMemberResponse{OK: true}}, nil
}
