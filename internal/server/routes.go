package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/relai/internal/api/v1"
	"github.com/gosuda/relai/internal/api/ws"
	"github.com/gosuda/relai/internal/store/postgres"
)

func registerAPIRoutes(api huma.API, store *postgres.Store) {
	v1.RegisterChatRoutes(api, store)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/chat/{passportID}", hub.ServeChat)
}
