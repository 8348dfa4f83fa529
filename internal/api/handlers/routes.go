package handlers

import (
	"github.com/go-chi/chi/v5"

	"weatherbingo/internal/core"
)

// Registrar bundles the handlers into one core.RouteRegistrar.
func Registrar(races *RaceHandler, fc *ForecastHandler, poller *PollerHandler) core.RouteRegistrar {
	return func(r chi.Router) {
		r.Route("/races", races.RegisterRoutes)
		r.Route("/forecasts", fc.RegisterRoutes)
		if poller != nil {
			r.Route("/poller", poller.RegisterRoutes)
		}
	}
}
