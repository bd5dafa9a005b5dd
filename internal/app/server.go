package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"recording-relay/internal/circuitbreaker"
	"recording-relay/internal/fetcher"
	"recording-relay/internal/handlers"
	"recording-relay/internal/pipeline"
	"recording-relay/internal/server"
)

// RunServer builds the status API. It returns nil when STATUS_PORT is empty.
func (app *App) RunServer() (*server.Server, http.Handler) {
	if app.Config.StatusPort == "" {
		app.Logger.Info("Status API disabled")
		return nil, nil
	}

	h := handlers.New(app.handlerDeps(), nil)

	router := mux.NewRouter()
	SetupRoutes(router, h, app.Logger)

	return server.New(router, app.Config.StatusPort, nil), router
}

func (app *App) handlerDeps() handlers.Deps {
	deps := handlers.Deps{
		Poller:      app.Poller,
		Ledger:      app.Ledger,
		Credentials: app.Credentials,
		Processor:   func() pipeline.Stats { return app.Processor.Stats() },
		Fetcher:     func() fetcher.Stats { return app.Fetcher.Stats() },
		Limiter:     app.Limiter.Stats,
		Breaker:     func() circuitbreaker.Stats { return app.Breaker.Stats() },
	}
	for _, uploader := range app.Uploaders {
		deps.Uploaders = append(deps.Uploaders, uploader.Stats)
	}
	return deps
}
