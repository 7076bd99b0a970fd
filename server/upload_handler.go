package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"meuwsic/core/ingest"
	"meuwsic/logger"

	"github.com/gabriel-vasile/mimetype"
)

const uploadField = "files"

// UploadResponse 批量上传结果
type UploadResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Results []ingest.Result `json:"results"`
	Summary ingest.Summary  `json:"summary"`
}

// stagedFile 已落到临时目录的上传文件
type stagedFile struct {
	filename string
	mimeType string
	path     string
	size     int64
}

// UploadHandler 接收 multipart 上传，逐个交给编排器处理
func (h *APIHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Expected multipart/form-data body")
		return
	}

	staged, rejected, err := h.stageParts(reader)
	if rejected != nil {
		removeStaged(staged)
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:     rejected.Error,
			ErrorType: string(rejected.ErrorType),
		})
		return
	}
	if err != nil {
		removeStaged(staged)
		logger.Warn("读取上传内容失败", logger.ErrorField(err))
		writeError(w, http.StatusBadRequest, "Malformed multipart body")
		return
	}
	if len(staged) == 0 {
		writeError(w, http.StatusBadRequest, "No files provided")
		return
	}

	inputs := make([]ingest.Input, 0, len(staged))
	for _, f := range staged {
		inputs = append(inputs, ingest.Input{
			Filename:   f.filename,
			MimeType:   f.mimeType,
			StagedPath: f.path,
		})
	}

	results := h.Orchestrator.IngestBatch(r.Context(), inputs)
	summary, message := ingest.Summarize(results)
	logger.Info("批量上传完成",
		logger.Int("total", summary.Total),
		logger.Int("successful", summary.Successful),
		logger.Int("failed", summary.Failed))

	writeJSON(w, http.StatusOK, UploadResponse{
		Success: summary.Failed == 0,
		Message: message,
		Results: results,
		Summary: summary,
	})
}

// stageParts 把 files 字段逐个写入临时文件，同时检查单文件与总大小上限。
// 超限时记录一次 file_size 失败并返回该结果
func (h *APIHandler) stageParts(reader *multipart.Reader) ([]stagedFile, *ingest.Result, error) {
	limits := h.Config.Upload
	if err := os.MkdirAll(limits.TempDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create temp dir: %w", err)
	}

	var (
		staged []stagedFile
		total  int64
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return staged, nil, nil
		}
		if err != nil {
			return staged, nil, err
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			part.Close()
			continue
		}

		f, err := h.stagePart(part, limits.TempDir, limits.MaxFileSize)
		part.Close()
		if f.path != "" {
			staged = append(staged, f)
		}
		if err != nil {
			return staged, nil, err
		}

		total += f.size
		var reason string
		switch {
		case f.size > limits.MaxFileSize:
			reason = fmt.Sprintf("File %s exceeds the maximum size of %d MB", f.filename, limits.MaxFileSize>>20)
		case total > limits.MaxTotalSize:
			reason = fmt.Sprintf("Total upload size exceeds the maximum of %d MB", limits.MaxTotalSize>>20)
		}
		if reason != "" {
			res := h.Orchestrator.Reject(ingest.Input{Filename: f.filename}, f.size,
				ingest.NewError(ingest.CategoryFileSize, "", errors.New(reason)))
			return staged, &res, nil
		}
	}
}

// stagePart 最多写入 limit+1 字节，size 超过 limit 即判定超限
func (h *APIHandler) stagePart(part *multipart.Part, dir string, limit int64) (stagedFile, error) {
	f := stagedFile{filename: part.FileName(), mimeType: part.Header.Get("Content-Type")}

	tmp, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return f, fmt.Errorf("create temp file: %w", err)
	}
	f.path = tmp.Name()

	n, err := io.Copy(tmp, io.LimitReader(part, limit+1))
	f.size = n
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return f, fmt.Errorf("write temp file: %w", err)
	}

	if f.mimeType == "" || strings.HasPrefix(f.mimeType, "application/octet-stream") {
		if mt, err := mimetype.DetectFile(f.path); err == nil {
			f.mimeType = mt.String()
		}
	}
	return f, nil
}

func removeStaged(files []stagedFile) {
	for _, f := range files {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("删除临时文件失败", logger.String("path", f.path), logger.ErrorField(err))
		}
	}
}
