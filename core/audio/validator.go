package audio

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

const (
	minBitrate        = 64000
	minSampleRate     = 22050
	defaultBitrate    = 128000
	sizeMismatchRatio = 0.3
	longAudioSeconds  = 600
	highBitrate       = 320000
)

var supportedContainers = map[string]bool{
	ContainerMP3:  true,
	ContainerFLAC: true,
	ContainerOGG:  true,
	ContainerM4A:  true,
	ContainerWAV:  true,
}

// fallbackBitrates 解析失败时按扩展名估算时长所用的码率
var fallbackBitrates = map[string]int{
	"flac": 1000000,
	"wav":  1411200,
	"mp3":  128000,
	"m4a":  128000,
	"aac":  128000,
}

// ValidationResult 校验结论。IsValid 为 true 时 Duration > 0
type ValidationResult struct {
	IsValid        bool     `json:"isValid"`
	Duration       int      `json:"duration"`
	ActualDuration float64  `json:"actualDuration"`
	Bitrate        *int     `json:"bitrate,omitempty"`
	SampleRate     *int     `json:"sampleRate,omitempty"`
	Format         string   `json:"format,omitempty"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings"`
	// Metadata 解析成功时附带，用于后续命名与入库
	Metadata *Metadata `json:"-"`
}

// Validator 音频上传校验，纯函数，不做任何 IO
type Validator struct {
	extractor Extractor
}

// NewValidator extractor 为 nil 时使用 NewExtractor
func NewValidator(extractor Extractor) *Validator {
	if extractor == nil {
		extractor = NewExtractor()
	}
	return &Validator{extractor: extractor}
}

// Validate 永不返回 error，所有失败都体现在 Errors/IsValid 中
func (v *Validator) Validate(buf []byte, filename string) ValidationResult {
	result := ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
	}

	md, err := v.extract(buf, filename)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Metadata parsing failed: %s", err.Error()))
		v.fallback(&result, len(buf), filename)
		return result
	}

	if md == nil {
		result.Errors = append(result.Errors, "No format information found in audio file")
		return result
	}
	// 不足半秒的片段取整后为 0，同样视为无效
	if math.IsNaN(md.Duration) || math.IsInf(md.Duration, 0) || math.Round(md.Duration) <= 0 {
		result.Errors = append(result.Errors, "Invalid or missing duration in audio metadata")
		return result
	}

	if md.Container == "" {
		result.Warnings = append(result.Warnings, "Unknown audio container format")
	} else if !supportedContainers[strings.ToUpper(md.Container)] {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Audio format %s may have compatibility issues", md.Container))
	}
	if md.Bitrate > 0 && md.Bitrate < minBitrate {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Low bitrate detected: %dkbps", int(math.Round(float64(md.Bitrate)/1000))))
	}
	if md.SampleRate > 0 && md.SampleRate < minSampleRate {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Low sample rate detected: %dHz", md.SampleRate))
	}

	assumed := md.Bitrate
	if assumed <= 0 {
		assumed = defaultBitrate
	}
	expected := math.Round(md.Duration * float64(assumed) / 8)
	if expected > 0 && math.Abs(float64(len(buf))-expected)/expected > sizeMismatchRatio {
		result.Warnings = append(result.Warnings, "File size mismatch detected - possible truncation or corruption")
	}

	result.IsValid = true
	result.Duration = int(math.Round(md.Duration))
	result.ActualDuration = md.Duration
	if md.Bitrate > 0 {
		b := md.Bitrate
		result.Bitrate = &b
	}
	if md.SampleRate > 0 {
		s := md.SampleRate
		result.SampleRate = &s
	}
	result.Format = md.Container
	if result.Format == "" {
		result.Format = "Unknown"
	}
	result.Metadata = md
	return result
}

// extract 第三方解析库遇到畸形输入可能 panic，这里转成 error
func (v *Validator) extract(buf []byte, filename string) (md *Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			md, err = nil, fmt.Errorf("parser panic: %v", r)
		}
	}()
	return v.extractor.Extract(buf, filename)
}

func (v *Validator) fallback(result *ValidationResult, size int, filename string) {
	estimate := float64(size) * 8 / float64(FallbackBitrate(filename))
	rounded := int(math.Round(estimate))
	if rounded <= 0 {
		result.Errors = append(result.Errors, "Could not estimate duration from file size")
		return
	}
	result.IsValid = true
	result.Duration = rounded
	result.ActualDuration = estimate
	result.Warnings = append(result.Warnings, "Using estimated duration due to metadata parsing failure")
}

// FallbackBitrate 按扩展名返回估算码率
func FallbackBitrate(filename string) int {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if b, ok := fallbackBitrates[ext]; ok {
		return b
	}
	return defaultBitrate
}

// ValidateUpload 校验并给出处理建议
func (v *Validator) ValidateUpload(buf []byte, filename string) (ValidationResult, []string) {
	result := v.Validate(buf, filename)
	return result, Recommendations(result)
}

// Recommendations 根据校验结果生成建议
func Recommendations(r ValidationResult) []string {
	recs := []string{}
	if !r.IsValid {
		return append(recs,
			"File rejected due to validation errors",
			"Try re-encoding the audio file with a standard format (MP3, FLAC)")
	}
	if len(r.Warnings) > 0 {
		recs = append(recs, "File accepted with warnings - monitor playback quality")
	}
	if r.Duration > longAudioSeconds {
		recs = append(recs, "Long audio file detected - ensure adequate storage and bandwidth")
	}
	if r.Bitrate != nil && *r.Bitrate > highBitrate {
		recs = append(recs, "High bitrate detected - consider compression for better streaming")
	}
	return recs
}
