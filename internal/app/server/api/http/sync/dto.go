package sync

import syncdomain "or3sync/internal/domain/sync"

type pushInput struct {
	Body syncdomain.PushRequest
}

type pushOutput struct {
	Body *syncdomain.PushResponse
}

type pullInput struct {
	Body syncdomain.PullRequest
}

type pullOutput struct {
	Body *syncdomain.PullResponse
}

type cursorInput struct {
	Body syncdomain.CursorRequest
}

type cursorOutput struct {
	Body *syncdomain.CursorResponse
}

type snapshotInput struct {
	Body syncdomain.SnapshotRequest
}

type snapshotOutput struct {
	Body *syncdomain.SnapshotResponse
}
