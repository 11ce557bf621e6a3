package user

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"or3sync/internal/app/server/api/http/httperr"
	"or3sync/internal/domain/session"
	"or3sync/internal/domain/user"
)

type Handler struct {
	service    user.Servicer
	session    session.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service user.Servicer, session session.Servicer, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		session:    session,
		log:        log.With("component", "user_handler"),
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.registerOp(), h.register)
	huma.Register(api, h.loginOp(), h.login)
}

func (h *Handler) register(ctx context.Context, input *registerInput) (*registerOutput, error) {
	id, err := h.service.Register(ctx, input.Body.Login, input.Body.Password)
	if err != nil {
		return nil, httperr.From(h.log, err)
	}
	return &registerOutput{Body: RegisterResponse{ID: id}}, nil
}

func (h *Handler) login(ctx context.Context, input *loginInput) (*loginOutput, error) {
	u, err := h.service.Authenticate(ctx, input.Body.Login, input.Body.Password)
	if err != nil {
		return nil, httperr.From(h.log, err)
	}

	token, err := h.session.Create(ctx, u.ID)
	if err != nil {
		return nil, httperr.From(h.log, err)
	}
	return &loginOutput{Body: LoginResponse{Token: token, UserID: u.ID}}, nil
}
