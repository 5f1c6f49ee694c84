package handlers

import (
	"net/http"

	"github.com/gallery/server/internal/services"
)

// AdminHandler exposes maintenance status and manual maintenance runs
type AdminHandler struct {
	maintenance *services.MaintenanceService
	hub         *services.WebSocketHub
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(maintenance *services.MaintenanceService, hub *services.WebSocketHub) *AdminHandler {
	return &AdminHandler{maintenance: maintenance, hub: hub}
}

// SystemStatusResponse summarizes background work and live connections
type SystemStatusResponse struct {
	Maintenance      services.MaintenanceStatus `json:"maintenance"`
	WebSocketClients int                        `json:"webSocketClients"`
}

// GetStatus returns the latest maintenance pass and connected client count
// @Summary System status
// @Tags admin
// @Produce json
// @Success 200 {object} handlers.SystemStatusResponse
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/status [get]
func (h *AdminHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SystemStatusResponse{
		Maintenance:      h.maintenance.GetStatus(),
		WebSocketClients: h.hub.GetClientCount(),
	})
}

// RunMaintenance checks every category's ordering and purges expired sessions now
// @Summary Run maintenance
// @Tags admin
// @Produce json
// @Success 200 {object} services.MaintenanceStatus
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/maintenance [post]
func (h *AdminHandler) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.maintenance.RunNow(r.Context()))
}
