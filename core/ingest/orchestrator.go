package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"meuwsic/core/audio"
	"meuwsic/core/ledger"
	"meuwsic/logger"
	"meuwsic/model"
	"meuwsic/repository"
	"meuwsic/storage"
)

// Validator 音频校验
type Validator interface {
	ValidateUpload(buf []byte, filename string) (audio.ValidationResult, []string)
}

// BlobStore 对象存储中上传流程用到的部分
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, opts storage.PutOptions) (storage.Object, error)
	Delete(ctx context.Context, key string) error
}

// CatalogStore 曲目落库
type CatalogStore interface {
	SaveIngest(ctx context.Context, rec *repository.IngestRecord) (*model.Track, error)
}

// Recorder 上传尝试记录
type Recorder interface {
	Record(a ledger.Attempt) ledger.Attempt
}

// Config 编排参数
type Config struct {
	KeyPrefix   string
	StepTimeout time.Duration
	Retry       RetryPolicy
}

// Input 一个待入库的文件。Buffer 为空时从 StagedPath 或 Path 读取；
// StagedPath 是临时文件，处理结束后删除，Path 只读不删
type Input struct {
	Filename   string
	MimeType   string
	Buffer     []byte
	StagedPath string
	Path       string
}

// ValidationSummary 成功结果中的校验信息
type ValidationSummary struct {
	IsValid         bool     `json:"isValid"`
	Duration        int      `json:"duration"`
	ActualDuration  float64  `json:"actualDuration"`
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations"`
}

// TrackMetadata 成功结果中的曲目信息
type TrackMetadata struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	Duration   int    `json:"duration"`
	Genre      string `json:"genre"`
	Year       *int   `json:"year"`
	Track      *int   `json:"track"`
	Bitrate    *int   `json:"bitrate"`
	SampleRate *int   `json:"sampleRate"`
}

// Result 单个文件的处理结果，Success 决定哪一组字段有效
type Result struct {
	Filename   string             `json:"filename"`
	Key        string             `json:"key,omitempty"`
	PublicURL  string             `json:"publicUrl,omitempty"`
	Size       int64              `json:"size,omitempty"`
	TrackID    string             `json:"trackId,omitempty"`
	Validation *ValidationSummary `json:"validation,omitempty"`
	Metadata   *TrackMetadata     `json:"metadata,omitempty"`

	Error           string   `json:"error,omitempty"`
	ErrorType       Category `json:"errorType,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`

	Success bool `json:"success"`
}

// Orchestrator 校验 → 上传对象 → 落库 → 记账
type Orchestrator struct {
	cfg       Config
	validator Validator
	store     BlobStore
	catalog   CatalogStore
	recorder  Recorder
	now       func() time.Time
}

// New 创建编排器
func New(cfg Config, validator Validator, store BlobStore, catalog CatalogStore, recorder Recorder) *Orchestrator {
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	return &Orchestrator{
		cfg:       cfg,
		validator: validator,
		store:     store,
		catalog:   catalog,
		recorder:  recorder,
		now:       time.Now,
	}
}

// IsAudioMIME 只接受 audio/*
func IsAudioMIME(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "audio/")
}

// IngestBatch 按提交顺序逐个处理，单个失败不影响其余文件
func (o *Orchestrator) IngestBatch(ctx context.Context, inputs []Input) []Result {
	results := make([]Result, 0, len(inputs))
	for _, in := range inputs {
		results = append(results, o.Ingest(ctx, in))
	}
	return results
}

// Ingest 处理单个文件，每次调用恰好记录一次尝试
func (o *Orchestrator) Ingest(ctx context.Context, in Input) (res Result) {
	if in.StagedPath != "" {
		defer o.discard(in.StagedPath)
	}
	if err := load(&in); err != nil {
		return o.fail(in.Filename, 0, NewError(CategoryUnknown, "read file", err), nil)
	}
	size := int64(len(in.Buffer))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("ingest panic", logger.String("filename", in.Filename), logger.Any("panic", r))
			res = o.fail(in.Filename, size, NewError(CategoryUnknown, "ingest", fmt.Errorf("panic: %v", r)), nil)
		}
	}()

	if !IsAudioMIME(in.MimeType) {
		return o.fail(in.Filename, size,
			NewError(CategoryFileFormat, "", errors.New("Invalid file type. Only audio files are allowed.")), nil)
	}

	validation, recs := o.validator.ValidateUpload(in.Buffer, in.Filename)
	if !validation.IsValid {
		return o.fail(in.Filename, size, NewError(CategoryAudioValidation, "",
			fmt.Errorf("Audio validation failed: %s", strings.Join(validation.Errors, ", "))), recs)
	}

	rec, meta := o.describe(in, validation)

	var obj storage.Object
	err := withRetry(ctx, o.cfg.Retry, o.cfg.StepTimeout, "put object", func(ctx context.Context) error {
		var err error
		obj, err = o.store.Put(ctx, rec.FileKey, bytes.NewReader(in.Buffer), size, storage.PutOptions{
			ContentType: in.MimeType,
			Metadata:    o.objectMetadata(in.Filename, validation, meta),
		})
		return err
	}, storageRetryable)
	if err != nil {
		return o.fail(in.Filename, size, stepError(CategoryStorage, "upload to object storage", err), nil)
	}
	rec.FileURL = obj.URL

	var track *model.Track
	err = withRetry(ctx, o.cfg.Retry, o.cfg.StepTimeout, "save track", func(ctx context.Context) error {
		var err error
		track, err = o.catalog.SaveIngest(ctx, rec)
		return err
	}, catalogRetryable)
	if err != nil {
		o.removeOrphan(rec.FileKey)
		return o.fail(in.Filename, size, stepError(CategoryDatabase, "save track", err), nil)
	}

	duration := validation.Duration
	o.recorder.Record(ledger.Attempt{
		Filename: in.Filename,
		Status:   ledger.StatusSuccess,
		FileSize: &size,
		Duration: &duration,
	})
	logger.Info("上传入库成功",
		logger.String("filename", in.Filename),
		logger.String("key", rec.FileKey),
		logger.String("trackId", track.ID),
		logger.Int("duration", duration))

	return Result{
		Filename:  in.Filename,
		Key:       rec.FileKey,
		PublicURL: obj.URL,
		Size:      size,
		TrackID:   track.ID,
		Validation: &ValidationSummary{
			IsValid:         true,
			Duration:        validation.Duration,
			ActualDuration:  validation.ActualDuration,
			Warnings:        validation.Warnings,
			Recommendations: recs,
		},
		Metadata: meta,
		Success:  true,
	}
}

func load(in *Input) error {
	if in.Buffer != nil {
		return nil
	}
	path := in.StagedPath
	if path == "" {
		path = in.Path
	}
	if path == "" {
		in.Buffer = []byte{}
		return nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	in.Buffer = buf
	return nil
}

// Reject 在进入编排前就被拒绝的文件（如超出大小限制），同样记一次尝试
func (o *Orchestrator) Reject(in Input, size int64, err *Error) Result {
	if in.StagedPath != "" {
		defer o.discard(in.StagedPath)
	}
	return o.fail(in.Filename, size, err, nil)
}

func (o *Orchestrator) fail(filename string, size int64, err *Error, recs []string) Result {
	o.recorder.Record(ledger.Attempt{
		Filename:     filename,
		Status:       ledger.StatusFailed,
		ErrorType:    string(err.Category),
		ErrorMessage: err.Error(),
		FileSize:     &size,
	})
	logger.Warn("上传失败",
		logger.String("filename", filename),
		logger.String("category", string(err.Category)),
		logger.ErrorField(err))

	msg := err.Error()
	switch err.Category {
	case CategoryAudioValidation, CategoryFileFormat, CategoryFileSize:
	default:
		msg = "Upload failed: " + msg
	}
	return Result{
		Filename:        filename,
		Error:           msg,
		ErrorType:       err.Category,
		Recommendations: recs,
	}
}

// describe 由文件名和标签生成落库记录，缺失的标签用默认值
func (o *Orchestrator) describe(in Input, v audio.ValidationResult) (*repository.IngestRecord, *TrackMetadata) {
	md := v.Metadata
	if md == nil {
		md = &audio.Metadata{}
	}

	title := md.Title
	if title == "" {
		title = TitleFromFilename(in.Filename)
	}
	artist := md.Artist
	if artist == "" {
		artist = unknownArtist
	}

	rec := &repository.IngestRecord{
		Title:      title,
		Slug:       Slugify(title),
		ArtistName: artist,
		ArtistSlug: Slugify(artist),
		FileKey:    StorageKey(o.cfg.KeyPrefix, in.Filename),
		FileName:   in.Filename,
		FileSize:   int64(len(in.Buffer)),
		Duration:   v.Duration,
		Bitrate:    v.Bitrate,
		SampleRate: v.SampleRate,
		Format:     FormatFromFilename(in.Filename),
	}
	if md.Album != "" {
		rec.AlbumTitle = md.Album
		rec.AlbumSlug = Slugify(md.Album)
		rec.AlbumYear = md.Year
	}
	if md.TrackNumber > 0 {
		n := md.TrackNumber
		rec.TrackNumber = &n
	}
	if md.Year > 0 {
		y := md.Year
		rec.Year = &y
	}

	genre := md.Genre
	if genre == "" {
		genre = "Unknown"
	}
	album := md.Album
	if album == "" {
		album = unknownAlbum
	}
	meta := &TrackMetadata{
		Title:      title,
		Artist:     artist,
		Album:      album,
		Duration:   v.Duration,
		Genre:      genre,
		Year:       rec.Year,
		Track:      rec.TrackNumber,
		Bitrate:    v.Bitrate,
		SampleRate: v.SampleRate,
	}
	return rec, meta
}

func (o *Orchestrator) objectMetadata(filename string, v audio.ValidationResult, meta *TrackMetadata) map[string]string {
	warnings := "none"
	if len(v.Warnings) > 0 {
		warnings = strings.Join(v.Warnings, "; ")
	}
	return map[string]string{
		"originalName":       filename,
		"uploadedAt":         o.now().UTC().Format(time.RFC3339),
		"title":              meta.Title,
		"artist":             meta.Artist,
		"album":              meta.Album,
		"duration":           strconv.Itoa(v.Duration),
		"validatedDuration":  strconv.FormatFloat(v.ActualDuration, 'f', -1, 64),
		"bitrate":            intOrZero(v.Bitrate),
		"sampleRate":         intOrZero(v.SampleRate),
		"validationWarnings": warnings,
	}
}

// removeOrphan 落库失败时删除已上传的对象，失败只记日志
func (o *Orchestrator) removeOrphan(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.stepTimeout())
	defer cancel()
	if err := o.store.Delete(ctx, key); err != nil {
		logger.Error("删除孤立对象失败", logger.String("key", key), logger.ErrorField(err))
		return
	}
	logger.Info("已删除孤立对象", logger.String("key", key))
}

func (o *Orchestrator) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("删除临时文件失败", logger.String("path", path), logger.ErrorField(err))
	}
}

func (o *Orchestrator) stepTimeout() time.Duration {
	if o.cfg.StepTimeout > 0 {
		return o.cfg.StepTimeout
	}
	return 30 * time.Second
}

func intOrZero(v *int) string {
	if v == nil {
		return "0"
	}
	return strconv.Itoa(*v)
}

// Summary 批量上传汇总
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Summarize 统计结果并生成提示语
func Summarize(results []Result) (Summary, string) {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	msg := fmt.Sprintf("Uploaded %d files successfully", s.Successful)
	if s.Failed > 0 {
		msg += fmt.Sprintf(", %d failed", s.Failed)
	}
	return s, msg
}
