package user

type Credentials struct {
	Login    string `json:"login" minLength:"1" maxLength:"64" example:"alice"`
	Password string `json:"password" minLength:"1" maxLength:"72"`
}

type registerInput struct {
	Body Credentials
}

type registerOutput struct {
	Body RegisterResponse
}

type RegisterResponse struct {
	ID string `json:"id" doc:"New user id"`
}

type loginInput struct {
	Body Credentials
}

type loginOutput struct {
	Body LoginResponse
}

type LoginResponse struct {
	Token  string `json:"token" doc:"Bearer token for the Authorization header"`
	UserID string `json:"user_id"`
}
