package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"meuwsic/logger"
)

// 超过这个耗时认为数据库刚从休眠中唤醒
const wakeThreshold = 2 * time.Second

// PingResponse 数据库连通性
type PingResponse struct {
	Status       string    `json:"status"`
	ResponseTime int64     `json:"responseTime"` // 毫秒
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message"`
	WasAsleep    bool      `json:"wasAsleep"`
}

// DatabasePingHandler SELECT 1
func (h *APIHandler) DatabasePingHandler(w http.ResponseWriter, r *http.Request) {
	elapsed, err := h.Maintenance.Ping(r.Context())
	if err != nil {
		logger.Error("数据库 ping 失败", logger.ErrorField(err))
		writeJSON(w, http.StatusInternalServerError, PingResponse{
			Status:       "error",
			ResponseTime: elapsed.Milliseconds(),
			Timestamp:    time.Now(),
			Message:      "Database connection failed",
		})
		return
	}

	resp := PingResponse{
		Status:       "ok",
		ResponseTime: elapsed.Milliseconds(),
		Timestamp:    time.Now(),
		Message:      "Database is awake",
	}
	if elapsed > wakeThreshold {
		resp.WasAsleep = true
		resp.Message = "Database was asleep and has been woken up"
	}
	writeJSON(w, http.StatusOK, resp)
}

// CleanupBucketRequest 指定 key 或全部删除
type CleanupBucketRequest struct {
	FilesToDelete []string `json:"filesToDelete" validate:"required_without=DeleteAll,dive,required"`
	DeleteAll     bool     `json:"deleteAll"`
}

// CleanupBucketResponse 删除结果
type CleanupBucketResponse struct {
	Success      bool     `json:"success"`
	DeletedCount int      `json:"deletedCount"`
	Errors       []string `json:"errors"`
	Message      string   `json:"message"`
}

// CleanupBucketHandler 删除对象存储中的文件
func (h *APIHandler) CleanupBucketHandler(w http.ResponseWriter, r *http.Request) {
	var req CleanupBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	keys := req.FilesToDelete
	if req.DeleteAll {
		objects, err := h.Store.List(r.Context(), "")
		if err != nil {
			logger.Error("列出对象失败", logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "Failed to list bucket objects")
			return
		}
		keys = make([]string, 0, len(objects))
		for _, obj := range objects {
			keys = append(keys, obj.Key)
		}
	}

	resp := CleanupBucketResponse{Errors: []string{}}
	for _, key := range keys {
		if err := h.Store.Delete(r.Context(), key); err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		resp.DeletedCount++
	}
	resp.Success = len(resp.Errors) == 0
	resp.Message = fmt.Sprintf("Deleted %d of %d files", resp.DeletedCount, len(keys))

	logger.Info("清理存储桶",
		logger.Int("deleted", resp.DeletedCount),
		logger.Int("failed", len(resp.Errors)))
	writeJSON(w, http.StatusOK, resp)
}

// CleanupDatabaseRequest 必须显式确认
type CleanupDatabaseRequest struct {
	ConfirmCleanup bool `json:"confirmCleanup" validate:"eq=true"`
}

// CleanupDatabaseResponse 每张表删除的行数
type CleanupDatabaseResponse struct {
	Success       bool             `json:"success"`
	Message       string           `json:"message"`
	DeletedCounts map[string]int64 `json:"deletedCounts"`
	TotalDeleted  int64            `json:"totalDeleted"`
}

// CleanupDatabaseHandler 清空所有业务表
func (h *APIHandler) CleanupDatabaseHandler(w http.ResponseWriter, r *http.Request) {
	var req CleanupDatabaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Database cleanup requires confirmCleanup: true")
		return
	}

	counts, err := h.Maintenance.Cleanup(r.Context())
	if err != nil {
		logger.Error("清空数据库失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Database cleanup failed")
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	logger.Warn("数据库已清空", logger.Int64("rows", total))
	writeJSON(w, http.StatusOK, CleanupDatabaseResponse{
		Success:       true,
		Message:       fmt.Sprintf("Deleted %d rows", total),
		DeletedCounts: counts,
		TotalDeleted:  total,
	})
}
