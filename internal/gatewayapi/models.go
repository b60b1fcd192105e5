package gatewayapi

import (
	"net/http"

	handlers "github.com/nexusgate/gateway/api/handlers"
)

// ModelsHandler serves GET /v1/models: the runnable alias table with an
// is_agent flag per spec §6, sourced from the same Registry the Router
// resolves against (internal/router.Registry.List).
type ModelsHandler struct {
	aliases AliasLister
}

// NewModelsHandler builds a ModelsHandler.
func NewModelsHandler(aliases AliasLister) *ModelsHandler {
	return &ModelsHandler{aliases: aliases}
}

// HandleList writes the ModelsResponse.
func (h *ModelsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	aliases := h.aliases.List()
	out := ModelsResponse{Object: "list", Data: make([]ModelInfo, 0, len(aliases))}
	for _, a := range aliases {
		out.Data = append(out.Data, ModelInfo{ID: a.Name, Object: "model", OwnedBy: "gateway", IsAgent: a.IsAgent})
	}
	handlers.WriteJSON(w, http.StatusOK, out)
}
