package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// NewRouter configures API routes and stored file serving.
func NewRouter(handler *Handler, logger zerolog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID, requestLogger(logger))

	r.HandleFunc("/healthz", handler.Health).Methods(http.MethodGet)
	r.HandleFunc("/files/{name}", handler.ServeFile).Methods(http.MethodGet, http.MethodHead)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(requireUser)
	api.HandleFunc("/assets", handler.UploadAsset).Methods(http.MethodPost)
	api.HandleFunc("/assets", handler.ListAssets).Methods(http.MethodGet)
	api.HandleFunc("/assets/{id}", handler.GetAsset).Methods(http.MethodGet)
	api.HandleFunc("/assets/{id}", handler.DeleteAsset).Methods(http.MethodDelete)
	api.HandleFunc("/merges", handler.SubmitMerge).Methods(http.MethodPost)
	api.HandleFunc("/merges", handler.ListMerges).Methods(http.MethodGet)
	api.HandleFunc("/merges/{id}", handler.GetMerge).Methods(http.MethodGet)
	api.HandleFunc("/merges/{id}/cancel", handler.CancelMerge).Methods(http.MethodPost)
	return r
}
