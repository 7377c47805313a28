package proxy

import (
	"net/http"

	"github.com/verticalgw/vertigate/internal/catalog"
)

// modelsHandler serves the model listing from the live catalog, so clients
// pick up hot-reloaded catalog changes without a gateway restart.
//
// Catalog entries carry both the OpenAI listing fields and the upstream
// binding fields; most clients ignore the unknown extras.
func modelsHandler(c *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, struct {
			Object string          `json:"object"`
			Data   []catalog.Model `json:"data"`
		}{
			Object: "list",
			Data:   c.List(),
		}, http.StatusOK)
	}
}
