// Package app assembles the service: configuration, database, model
// provider, permission graph client, chunk index, conversation store,
// engine and HTTP server.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helixapp/docengine/internal/api"
	"github.com/helixapp/docengine/internal/config"
	"github.com/helixapp/docengine/internal/engine"
)

// App holds the assembled service and its teardown hooks.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	DBPool *pgxpool.Pool
	Genkit *genkit.Genkit
	Engine *engine.Engine
	Server *api.Server

	otelCleanup func()
	dbCleanup   func()
}

// Close releases resources in reverse setup order. Safe to call on a
// partially constructed App.
func (a *App) Close() error {
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
