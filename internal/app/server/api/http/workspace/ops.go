package workspace

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) createOp() huma.Operation {
	return huma.Operation{
		OperationID:   "workspace-create",
		Method:        http.MethodPost,
		Path:          "/api/workspaces",
		Summary:       "Create a workspace owned by the caller",
		Tags:          []string{"workspaces"},
		DefaultStatus: http.StatusCreated,
		Security:      []map[string][]string{{"bearer": {}}},
		Middlewares:   h.middleware,
	}
}

func (h *Handler) listOp() huma.Operation {
	return huma.Operation{
		OperationID: "workspace-list",
		Method:      http.MethodGet,
		Path:        "/api/workspaces",
		Summary:     "List workspaces the caller belongs to",
		Tags:        []string{"workspaces"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) addMemberOp() huma.Operation {
	return huma.Operation{
		OperationID: "workspace-add-member",
		Method:      http.MethodPost,
		Path:        "/api/workspaces/{id}/members",
		Summary:     "Grant a user access to a workspace",
		Tags:        []string{"workspaces"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}
