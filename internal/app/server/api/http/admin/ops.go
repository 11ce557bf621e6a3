package admin

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

var adminToken = []map[string][]string{{"admin": {}}}

func (h *Handler) gcTombstonesOp() huma.Operation {
	return huma.Operation{
		OperationID: "admin-gc-tombstones",
		Method:      http.MethodPost,
		Path:        "/admin/gc/tombstones",
		Summary:     "Run one bounded tombstone collection",
		Tags:        []string{"admin"},
		Security:    adminToken,
		Middlewares: h.middleware,
	}
}

func (h *Handler) gcChangeLogOp() huma.Operation {
	return huma.Operation{
		OperationID: "admin-gc-changelog",
		Method:      http.MethodPost,
		Path:        "/admin/gc/changelog",
		Summary:     "Run one bounded change log collection",
		Description: "When done is false, pass next_cursor back as continuation_cursor to resume.",
		Tags:        []string{"admin"},
		Security:    adminToken,
		Middlewares: h.middleware,
	}
}
