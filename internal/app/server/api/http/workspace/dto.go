package workspace

import "or3sync/internal/domain/access"

type createInput struct {
	Body CreateRequest
}

type CreateRequest struct {
	Name string `json:"name" minLength:"1" maxLength:"128" example:"Personal notes"`
}

type createOutput struct {
	Body CreateResponse
}

type CreateResponse struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Role access.Role `json:"role"`
}

type listInput struct{}

type listOutput struct {
	Body ListResponse
}

type ListResponse struct {
	Workspaces []access.Membership `json:"workspaces"`
}

type addMemberInput struct {
	ID   string `path:"id"`
	Body AddMemberRequest
}

type AddMemberRequest struct {
	UserID string      `json:"user_id" minLength:"1"`
	Role   access.Role `json:"role" enum:"writer,reader"`
}

type addMemberOutput struct {
	Body AddMemberResponse
}

type AddMemberResponse struct {
	OK bool `json:"ok"`
}
