// Package types holds what the client subcommands share through the
// command context.
package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"or3sync/internal/app/client"
)

type ctxKey struct{}

// ClientAppKey is the context key the root command stores the App under.
var ClientAppKey = ctxKey{}

var ErrNoApp = errors.New("client is not initialized")

func WithApp(ctx context.Context, app *client.App) context.Context {
	return context.WithValue(ctx, ClientAppKey, app)
}

func AppFrom(ctx context.Context) (*client.App, error) {
	app, ok := ctx.Value(ClientAppKey).(*client.App)
	if !ok || app == nil {
		return nil, ErrNoApp
	}
	return app, nil
}

// PrintJSON writes v indented to w.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
