package server

import (
	"net/http"
	"strconv"

	"meuwsic/logger"
	"meuwsic/model"
)

const (
	defaultTrackLimit = 100
	maxTrackLimit     = 500
)

// TracksResponse 曲目列表
type TracksResponse struct {
	Success bool          `json:"success"`
	Tracks  []model.Track `json:"tracks"`
	Count   int           `json:"count"`
}

// GetTracksHandler 已发布曲目，最新的在前
func (h *APIHandler) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultTrackLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTrackLimit)
	}

	tracks, err := h.Tracks.ListPublished(r.Context(), limit)
	if err != nil {
		logger.Error("查询曲目失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to load tracks")
		return
	}
	if tracks == nil {
		tracks = []model.Track{}
	}
	writeJSON(w, http.StatusOK, TracksResponse{Success: true, Tracks: tracks, Count: len(tracks)})
}
