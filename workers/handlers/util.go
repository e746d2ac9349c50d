package handlers

import (
	"encoding/json"
	"net/http"
)

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) serverError(w http.ResponseWriter, err error) {
	h.log.Error().Err(err).Msg("request failed")
	responseJSON(w, &APIResponse{Status: "error", Message: "internal error"}, http.StatusInternalServerError)
}
