package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"meuwsic/logger"
	"meuwsic/model"
	"meuwsic/repository"
	"meuwsic/storage"

	"github.com/gorilla/mux"
)

// AudioHandler 从对象存储流式返回音频，支持单段 Range
func (h *APIHandler) AudioHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if key == "" {
		writeError(w, http.StatusBadRequest, "Missing audio key")
		return
	}

	info, err := h.Store.Stat(r.Context(), key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(w, http.StatusNotFound, "Audio file not found")
		return
	}
	if err != nil {
		logger.Error("获取音频信息失败", logger.String("key", key), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to load audio file")
		return
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	header := w.Header()
	header.Set("Content-Type", contentType)
	header.Set("Accept-Ranges", "bytes")
	header.Set("Cache-Control", "public, max-age=31536000")
	if info.ETag != "" {
		header.Set("ETag", `"`+info.ETag+`"`)
	}
	if !info.LastModified.IsZero() {
		header.Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}

	rng, err := parseRange(r.Header.Get("Range"), info.Size)
	if errors.Is(err, errRangeNotSatisfiable) {
		header.Set("Content-Range", "bytes */"+strconv.FormatInt(info.Size, 10))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "Requested range not satisfiable")
		return
	}

	status := http.StatusOK
	offset, length := int64(0), info.Size
	if rng != nil {
		status = http.StatusPartialContent
		offset, length = rng.Start, rng.Length()
		header.Set("Content-Range", rng.ContentRange(info.Size))
	}
	header.Set("Content-Length", strconv.FormatInt(length, 10))

	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}

	body, err := h.Store.Get(r.Context(), key, offset, length)
	if err != nil {
		header.Del("Content-Length")
		header.Del("Content-Range")
		logger.Error("读取音频失败", logger.String("key", key), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to stream audio file")
		return
	}
	defer body.Close()

	if offset == 0 {
		h.recordPlay(r, key)
	}

	w.WriteHeader(status)
	if _, err := io.Copy(w, body); err != nil {
		// 客户端中途断开很常见
		logger.Debug("音频传输中断", logger.String("key", key), logger.ErrorField(err))
	}
}

// recordPlay 从头开始的播放才计数，失败只记日志
func (h *APIHandler) recordPlay(r *http.Request, key string) {
	if h.Tracks == nil {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := h.Tracks.RecordPlay(ctx, key, &model.PlayHistory{
		Source:    "stream",
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		logger.Debug("音频没有对应曲目，跳过播放计数", logger.String("key", key))
	case err != nil:
		logger.Warn("记录播放失败", logger.String("key", key), logger.ErrorField(err))
	}
}
