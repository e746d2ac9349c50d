package handlers

import (
	"net/http"
	"strconv"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (h *Handlers) PendingExits(w http.ResponseWriter, r *http.Request) {
	page, err := intQuery(r, "page", 0)
	if err != nil || page < 0 {
		responseJSON(w, &APIResponse{Status: "error", Message: "page must be a non-negative number", Field: "page"}, http.StatusBadRequest)
		return
	}
	size, err := intQuery(r, "size", defaultPageSize)
	if err != nil || size <= 0 || size > maxPageSize {
		responseJSON(w, &APIResponse{Status: "error", Message: "size must be between 1 and 100", Field: "size"}, http.StatusBadRequest)
		return
	}

	exits, total, err := h.store.PendingExitsPage(r.Context(), size, page)
	if err != nil {
		h.serverError(w, err)
		return
	}

	responseJSON(w, &APIPendingExitsResponse{
		Status: "ok",
		Total:  total,
		Page:   page,
		Size:   size,
		Exits:  exits,
	}, http.StatusOK)
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
