package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcdev12/capturezone/go/internal/api"
	"github.com/mcdev12/capturezone/go/internal/config"
	"github.com/mcdev12/capturezone/go/internal/gateway"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg *config.Config, services *Services) *http.Server {
	router := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	api.NewHandler(services.Game).RegisterRoutes(router, services.Metrics)
	gateway.NewWebSocketHandler(services.Connections).RegisterRoutes(router)
	router.Handle("/metrics", services.Metrics.Handler()).Methods(http.MethodGet)

	handler := c.Handler(router)

	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
