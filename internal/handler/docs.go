package handler

import (
	_ "embed"
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"
)

//go:embed docs/openapi.json
var openAPISpec []byte

// OpenAPI отдаёт описание API.
func (h *Handler) OpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPISpec)
}

func docsHandler() http.HandlerFunc {
	return httpSwagger.Handler(httpSwagger.URL("/swagger.json"))
}
