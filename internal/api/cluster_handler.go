package api

import (
	"net/http"
	"slices"
)

// ClusterStatus возвращает состояние выборов и задач этого узла.
// GET /api/v1/cluster
func (h *Handler) ClusterStatus(w http.ResponseWriter, _ *http.Request) {
	waiting := h.scheduler.Waiting()
	slices.Sort(waiting)

	kinds := h.kinds.Kinds()
	slices.Sort(kinds)

	resp := ClusterResponse{
		NodeID:      h.cluster.Identity(),
		Leader:      h.cluster.Leader(),
		IsLeader:    h.cluster.IsLeader(),
		WaitingJobs: waiting,
		Queues:      h.scheduler.Queues(),
		Kinds:       kinds,
	}
	if resp.WaitingJobs == nil {
		resp.WaitingJobs = []int64{}
	}
	if resp.Queues == nil {
		resp.Queues = []string{}
	}

	if h.recurring != nil {
		defs := h.recurring.Definitions()
		resp.Recurring = make([]RecurringResponse, len(defs))
		for i := range defs {
			resp.Recurring[i] = RecurringFromDomain(&defs[i])
		}
	}

	Success(w, resp)
}
