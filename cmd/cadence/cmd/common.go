package cmd

import (
	"context"
	"encoding/json"
	"io"

	"github.com/petrijr/cadence/internal/app"
)

func (o *rootOptions) openApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, app.Options{
		Config: o.cfg,
		Logger: o.logger,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
