package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/KafClaw/groupjournal/internal/analysis"
	"github.com/KafClaw/groupjournal/internal/apperr"
	"github.com/KafClaw/groupjournal/internal/backfill"
	"github.com/KafClaw/groupjournal/internal/bus"
	"github.com/KafClaw/groupjournal/internal/store"
	"github.com/KafClaw/groupjournal/internal/synthesis"
)

type handlers struct {
	svc Services
}

type analyzeResponse struct {
	OK bool `json:"ok"`
	*analysis.Result
}

type groupResponse struct {
	GroupID     string          `json:"groupId"`
	Journal     json.RawMessage `json:"journal"`
	LastUpdated time.Time       `json:"lastUpdated"`
	HasArtifact bool            `json:"hasArtifact"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) analyzeItem(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req analysis.Request
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Analysis.Handle(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{OK: true, Result: res})
}

func (h *handlers) synthesizeGroup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req synthesis.Request
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	req.Source = bus.SourceManual
	res, err := h.svc.Synthesis.Handle(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) runBackfill(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req backfill.Request
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	report, err := h.svc.Backfill.Run(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) loadState(w http.ResponseWriter, r *http.Request) (*store.GroupState, bool) {
	groupID, err := apperr.RequireID("groupID", chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	state, err := h.svc.Store.GetGroupState(r.Context(), groupID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if state == nil {
		writeError(w, r, &apperr.NotFoundError{Kind: "group", ID: groupID})
		return nil, false
	}
	return state, true
}

func (h *handlers) getGroup(w http.ResponseWriter, r *http.Request) {
	state, ok := h.loadState(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, groupResponse{
		GroupID:     state.GroupID,
		Journal:     state.Journal,
		LastUpdated: state.LastUpdated,
		HasArtifact: state.HasArtifact(),
	})
}

func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request) {
	groupID, err := apperr.RequireID("groupID", chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			writeError(w, r, apperr.Invalid("limit", "must be an integer between 1 and 500"))
			return
		}
	}
	entries, err := h.svc.Store.ListHistory(r.Context(), groupID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []store.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) getArtifact(w http.ResponseWriter, r *http.Request) {
	state, ok := h.loadState(w, r)
	if !ok {
		return
	}
	if !state.HasArtifact() {
		writeError(w, r, &apperr.NotFoundError{Kind: "artifact", ID: state.GroupID})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(state.Artifact)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(state.Artifact)
}
