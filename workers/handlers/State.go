package handlers

import (
	"net/http"
)

// State reports the watermark and latest recorded exit of every configured
// chain and the size of the pending queue.
func (h *Handlers) State(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res := &APIStateResponse{Status: "ok", Chains: make([]ChainState, 0, len(h.chains))}
	for _, chain := range h.chains {
		watermark, err := h.store.LastScannedBlock(ctx, chain)
		if err != nil {
			h.serverError(w, err)
			return
		}
		latest, err := h.store.LatestExitBlock(ctx, chain.ChainID)
		if err != nil {
			h.serverError(w, err)
			return
		}
		res.Chains = append(res.Chains, ChainState{Chain: chain, Watermark: watermark, LatestExitBlock: latest})
	}

	_, total, err := h.store.PendingExitsPage(ctx, 1, 0)
	if err != nil {
		h.serverError(w, err)
		return
	}
	res.PendingExits = total

	responseJSON(w, res, http.StatusOK)
}
