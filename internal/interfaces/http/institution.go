package http

import (
	"net/http"

	"bankrecon/internal/domain/credential"
)

// PolicyCatalog lists institution credential policies.
type PolicyCatalog interface {
	List() []*credential.Policy
}

type InstitutionHandler struct {
	catalog PolicyCatalog
}

func NewInstitutionHandler(catalog PolicyCatalog) *InstitutionHandler {
	return &InstitutionHandler{catalog: catalog}
}

// HandleList returns the onboarding form of every institution. Policies
// carry labels and secret flags, never values.
func (h *InstitutionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	policies := h.catalog.List()
	if policies == nil {
		policies = []*credential.Policy{}
	}
	writeJSON(w, http.StatusOK, policies)
}

// HandleHealth reports liveness.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
