package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/rs/zerolog"

	"gomidenbridge/types"
)

// Handlers serves the read-only diagnostics API.
type Handlers struct {
	store    Store
	registry *types.ChainRegistry
	chains   []types.ChainRef
	signers  map[uint64]SignerBalance
	log      zerolog.Logger
}

func New(store Store, registry *types.ChainRegistry, chains []types.ChainRef, signers map[uint64]SignerBalance, log zerolog.Logger) *Handlers {
	return &Handlers{
		store:    store,
		registry: registry,
		chains:   chains,
		signers:  signers,
		log:      log.With().Str("component", "http").Logger(),
	}
}

// chainParam resolves {chainID} against the configured chains.
func (h *Handlers) chainParam(w http.ResponseWriter, r *http.Request) (types.ChainRef, bool) {
	raw := chi.URLParam(r, "chainID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		responseJSON(w, &APIResponse{Status: "error", Message: "chain id must be a number", Field: "chainID"}, http.StatusBadRequest)
		return types.ChainRef{}, false
	}
	if !h.registry.IsEVM(id) && !h.registry.IsMiden(id) {
		responseJSON(w, &APIResponse{Status: "error", Message: "unknown chain", Field: "chainID"}, http.StatusNotFound)
		return types.ChainRef{}, false
	}
	return h.registry.Ref(id), true
}
