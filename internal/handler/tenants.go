package handler

import (
	"net/http"

	"github.com/rentease/messaging/internal/middleware"
	"github.com/rentease/messaging/internal/model"
	"github.com/rentease/messaging/internal/service"
)

// TenantHandler serves the landlord's tenant roster.
type TenantHandler struct {
	directory *service.Directory
}

// NewTenantHandler creates a new tenant handler.
func NewTenantHandler(directory *service.Directory) *TenantHandler {
	return &TenantHandler{directory: directory}
}

// Active handles GET /landlord/tenants/active?unitId=.
func (h *TenantHandler) Active(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	unitID := r.URL.Query().Get("unitId")

	tenants := h.directory.ActiveTenants(ctx, middleware.GetUserID(ctx), unitID)
	if tenants == nil {
		tenants = []model.TenantSummary{}
	}

	writeJSON(w, http.StatusOK, &model.ActiveTenantsResponse{Tenants: tenants})
}
