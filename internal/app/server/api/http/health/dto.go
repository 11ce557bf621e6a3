package health

type Input struct{}

type Output struct {
	Body Response
}

type Response struct {
	Status  string `json:"status" example:"OK" doc:"Health status of the service"`
	Backend string `json:"backend" example:"postgres" doc:"Storage backend serving sync requests"`
}
