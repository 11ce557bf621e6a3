package sync

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

var bearer = []map[string][]string{{"bearer": {}}}

func (h *Handler) pushOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-push",
		Method:      http.MethodPost,
		Path:        "/api/sync/push",
		Summary:     "Push a batch of operations",
		Description: "Each operation is applied, recognised as a duplicate by op_id, or rejected on its own. " +
			"Inspect the per-operation results; a 503 may be retried with the same batch.",
		Tags:         []string{"sync"},
		Security:     bearer,
		MaxBodyBytes: h.maxPushBytes,
		Middlewares:  h.middleware,
	}
}

func (h *Handler) pullOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-pull",
		Method:      http.MethodPost,
		Path:        "/api/sync/pull",
		Summary:     "Pull changes after a cursor",
		Description: "Returns a page of changes in server_version order. 410 means the cursor fell behind " +
			"garbage collection and the device must re-bootstrap.",
		Tags:        []string{"sync"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}

func (h *Handler) cursorOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-cursor",
		Method:      http.MethodPost,
		Path:        "/api/sync/cursor",
		Summary:     "Acknowledge the highest version a device has applied",
		Tags:        []string{"sync"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}

func (h *Handler) snapshotOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-snapshot",
		Method:      http.MethodPost,
		Path:        "/api/sync/snapshot",
		Summary:     "Page through the current records of a workspace",
		Description: "Used after a 410 from pull. The first page fixes as_of; echo it and next on later pages, " +
			"then pull from as_of.",
		Tags:        []string{"sync"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}
