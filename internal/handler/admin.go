package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/quizgen/internal/store"
)

func (h *Handler) handleExportResults(w http.ResponseWriter, r *http.Request) {
	export, err := h.store.ExportResults()
	if err != nil {
		slog.Error("failed to export results", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (h *Handler) handleDeleteSessionResults(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "session ID required", http.StatusBadRequest)
		return
	}
	if err := h.store.DeleteSessionResults(sessionID); err != nil {
		slog.Error("failed to delete results", "session", sessionID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("deleted session results", "session", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

type catalogLecture struct {
	Name   string   `json:"name"`
	Topics []string `json:"topics"`
}

type catalogResponse struct {
	Info     store.CatalogInfo `json:"info"`
	Lectures []catalogLecture  `json:"lectures"`
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.GetCatalogInfo()
	if err != nil {
		slog.Error("failed to read catalog info", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := catalogResponse{Info: info, Lectures: []catalogLecture{}}
	for _, l := range h.catalog.Lectures() {
		topics, _ := h.catalog.Topics(l)
		if topics == nil {
			topics = []string{}
		}
		resp.Lectures = append(resp.Lectures, catalogLecture{Name: l, Topics: topics})
	}
	writeJSON(w, http.StatusOK, resp)
}
