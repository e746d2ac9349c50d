package handlers

import (
	"net/http"
)

func (h *Handlers) ChainWatermark(w http.ResponseWriter, r *http.Request) {
	chain, ok := h.chainParam(w, r)
	if !ok {
		return
	}
	block, err := h.store.LastScannedBlock(r.Context(), chain)
	if err != nil {
		h.serverError(w, err)
		return
	}
	responseJSON(w, &APIBlockResponse{Status: "ok", Chain: chain, Block: block}, http.StatusOK)
}

func (h *Handlers) LatestExit(w http.ResponseWriter, r *http.Request) {
	chain, ok := h.chainParam(w, r)
	if !ok {
		return
	}
	block, err := h.store.LatestExitBlock(r.Context(), chain.ChainID)
	if err != nil {
		h.serverError(w, err)
		return
	}
	responseJSON(w, &APIBlockResponse{Status: "ok", Chain: chain, Block: block}, http.StatusOK)
}

// SignerBalance shows the native balance paying for issueToken calls.
func (h *Handlers) SignerBalance(w http.ResponseWriter, r *http.Request) {
	chain, ok := h.chainParam(w, r)
	if !ok {
		return
	}
	signer, ok := h.signers[chain.ChainID]
	if !ok {
		responseJSON(w, &APIResponse{Status: "error", Message: "chain has no signer", Field: "chainID"}, http.StatusNotFound)
		return
	}
	balance, err := signer.SignerBalance(r.Context())
	if err != nil {
		h.serverError(w, err)
		return
	}
	responseJSON(w, &APIBalanceResponse{
		Status:  "ok",
		Chain:   chain,
		Address: signer.Signer().Hex(),
		Balance: balance.String(),
	}, http.StatusOK)
}
