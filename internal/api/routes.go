package api

import (
	"net/http"
)

// RegisterRoutes регистрирует маршруты API в mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		RequestID(),
		Recovery(h.logger),
		Logging(h.logger),
	)

	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"POST /api/v1/jobs", h.ScheduleJob},
		{"GET /api/v1/jobs/{id}", h.GetJob},
		{"DELETE /api/v1/jobs/{id}", h.CancelJob},
		{"POST /api/v1/jobs/{id}/reschedule", h.RescheduleJob},
		{"GET /api/v1/cluster", h.ClusterStatus},
	}
	for _, r := range routes {
		mux.Handle(r.pattern, chain(r.handler))
	}
}
