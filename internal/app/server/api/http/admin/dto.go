package admin

import syncdomain "or3sync/internal/domain/sync"

type gcInput struct {
	Body syncdomain.GCRequest
}

type gcOutput struct {
	Body *syncdomain.GCResult
}
