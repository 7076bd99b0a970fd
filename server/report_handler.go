package server

import (
	"net/http"
	"sort"
	"time"

	"meuwsic/core/events"
	"meuwsic/core/ingest"
	"meuwsic/core/ledger"
	"meuwsic/logger"

	"github.com/gorilla/websocket"
)

const (
	reportTrackLimit   = 50
	reportFailureLimit = 25
	reportRecentLimit  = 50
)

// ReportEntry 最近上传列表中的一项，成功来自曲目表，失败来自账本
type ReportEntry struct {
	ID           string        `json:"id"`
	Filename     string        `json:"filename"`
	CreatedAt    time.Time     `json:"createdAt"`
	Status       ledger.Status `json:"status"`
	ErrorType    string        `json:"errorType,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	FileSize     *int64        `json:"fileSize,omitempty"`
	Duration     *int          `json:"duration,omitempty"`
	Title        string        `json:"title,omitempty"`
	Artist       string        `json:"artist,omitempty"`
}

// UploadReport 上传报表
type UploadReport struct {
	ledger.Stats
	RecentUploads []ReportEntry `json:"recentUploads"`
}

// UploadReportHandler 汇总统计 + 最近上传
func (h *APIHandler) UploadReportHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.Tracks.ListPublished(r.Context(), reportTrackLimit)
	if err != nil {
		logger.Error("查询最近曲目失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to generate upload report")
		return
	}

	recent := make([]ReportEntry, 0, len(tracks)+reportFailureLimit)
	for _, t := range tracks {
		size, duration := t.FileSize, t.Duration
		entry := ReportEntry{
			ID:        t.ID,
			Filename:  t.FileName,
			CreatedAt: t.CreatedAt,
			Status:    ledger.StatusSuccess,
			FileSize:  &size,
			Duration:  &duration,
			Title:     t.Title,
		}
		if t.Artist != nil {
			entry.Artist = t.Artist.Name
		}
		recent = append(recent, entry)
	}
	for _, a := range h.Ledger.Failures(reportFailureLimit) {
		recent = append(recent, ReportEntry{
			ID:           a.ID,
			Filename:     a.Filename,
			CreatedAt:    a.Timestamp,
			Status:       a.Status,
			ErrorType:    a.ErrorType,
			ErrorMessage: a.ErrorMessage,
			FileSize:     a.FileSize,
			Title:        ingest.TitleFromFilename(a.Filename),
		})
	}

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	if len(recent) > reportRecentLimit {
		recent = recent[:reportRecentLimit]
	}

	writeJSON(w, http.StatusOK, UploadReport{Stats: h.Ledger.Stats(), RecentUploads: recent})
}

// UploadReportLiveHandler 升级为 WebSocket，推送每一次上传尝试
func (h *APIHandler) UploadReportLiveHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket 升级失败", logger.ErrorField(err))
		return
	}

	email := ""
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		email = claims.Email
	}
	h.Hub.Attach(conn, email, &events.Message{Type: events.MsgTypeStats, Data: h.Ledger.Stats()})
}

func (h *APIHandler) checkOrigin(r *http.Request) bool {
	allowed := h.Config.HTTP.AllowedOrigin
	if allowed == "" || allowed == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == allowed
}
