package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/abema/go-mp4"
	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/go-flac/go-flac"
	"github.com/jfreymuth/oggvorbis"
	"github.com/tcolgate/mp3"
)

// 支持的容器名称
const (
	ContainerMP3  = "MP3"
	ContainerFLAC = "FLAC"
	ContainerOGG  = "OGG"
	ContainerM4A  = "M4A"
	ContainerWAV  = "WAV"
)

// ErrUnknownContainer 无法识别的文件头
var ErrUnknownContainer = errors.New("unrecognized audio container")

// Metadata 从音频字节中解析出的信息，零值表示未知
type Metadata struct {
	Container   string
	Codec       string
	Duration    float64 // 秒
	Bitrate     int     // bit/s
	SampleRate  int     // Hz
	Channels    int
	Title       string
	Artist      string
	Album       string
	Genre       string
	Year        int
	TrackNumber int
}

// Extractor 解析音频元数据。返回 error 表示完全无法解析
type Extractor interface {
	Extract(buf []byte, filename string) (*Metadata, error)
}

// ExtractorFunc 函数适配
type ExtractorFunc func(buf []byte, filename string) (*Metadata, error)

func (f ExtractorFunc) Extract(buf []byte, filename string) (*Metadata, error) {
	return f(buf, filename)
}

type containerParser func(buf []byte) (*Metadata, error)

// multiExtractor 先识别容器，再交给对应格式的解析库
type multiExtractor struct {
	parsers map[string]containerParser
}

// NewExtractor 默认解析器，覆盖 MP3/FLAC/OGG Vorbis/M4A/WAV
func NewExtractor() Extractor {
	return &multiExtractor{
		parsers: map[string]containerParser{
			ContainerMP3:  parseMP3,
			ContainerFLAC: parseFLAC,
			ContainerOGG:  parseOGG,
			ContainerM4A:  parseMP4,
			ContainerWAV:  parseWAV,
		},
	}
}

func (e *multiExtractor) Extract(buf []byte, filename string) (*Metadata, error) {
	if len(buf) == 0 {
		return nil, errors.New("empty audio buffer")
	}

	container := DetectContainer(buf)
	parse, ok := e.parsers[container]
	if !ok {
		return nil, ErrUnknownContainer
	}

	md, err := parse(buf)
	if err != nil {
		return nil, fmt.Errorf("parse %s stream: %w", container, err)
	}
	md.Container = container
	if md.Bitrate == 0 && md.Duration > 0 {
		md.Bitrate = int(math.Round(float64(len(buf)) * 8 / md.Duration))
	}
	readTags(buf, md)
	return md, nil
}

// DetectContainer 根据文件头识别容器，无法识别返回空串
func DetectContainer(buf []byte) string {
	if _, fileType, err := tag.Identify(bytes.NewReader(buf)); err == nil {
		switch fileType {
		case tag.MP3:
			return ContainerMP3
		case tag.FLAC:
			return ContainerFLAC
		case tag.OGG:
			return ContainerOGG
		case tag.M4A, tag.M4B, tag.M4P, tag.ALAC:
			return ContainerM4A
		}
	}

	switch {
	case len(buf) >= 12 && string(buf[0:4]) == "RIFF" && string(buf[8:12]) == "WAVE":
		return ContainerWAV
	case len(buf) >= 4 && string(buf[0:4]) == "fLaC":
		return ContainerFLAC
	case len(buf) >= 4 && string(buf[0:4]) == "OggS":
		return ContainerOGG
	case len(buf) >= 8 && string(buf[4:8]) == "ftyp":
		return ContainerM4A
	case len(buf) >= 3 && string(buf[0:3]) == "ID3":
		return ContainerMP3
	case len(buf) >= 2 && buf[0] == 0xFF && buf[1]&0xE0 == 0xE0:
		// MPEG 帧同步字
		return ContainerMP3
	}
	return ""
}

func parseMP3(buf []byte) (*Metadata, error) {
	dec := mp3.NewDecoder(bytes.NewReader(buf))
	var (
		frame   mp3.Frame
		skipped int
		total   time.Duration
		frames  int
		bitSum  int64
		md      = &Metadata{Codec: "MPEG 1 Layer 3"}
	)
	for {
		if err := dec.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || frames > 0 {
				// 末尾的 ID3v1 或截断数据不影响已解析的帧
				break
			}
			return nil, err
		}
		frames++
		total += frame.Duration()
		h := frame.Header()
		bitSum += int64(h.BitRate())
		if md.SampleRate == 0 {
			md.SampleRate = int(h.SampleRate())
		}
	}
	if frames == 0 {
		return nil, errors.New("no MPEG frames found")
	}
	md.Duration = total.Seconds()
	md.Bitrate = int(bitSum / int64(frames))
	return md, nil
}

func parseFLAC(buf []byte) (*Metadata, error) {
	f, err := flac.ParseBytes(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	info, err := f.GetStreamInfo()
	if err != nil {
		return nil, err
	}
	md := &Metadata{
		Codec:      "FLAC",
		SampleRate: info.SampleRate,
		Channels:   info.ChannelCount,
	}
	if info.SampleRate > 0 {
		md.Duration = float64(info.SampleCount) / float64(info.SampleRate)
	}
	return md, nil
}

func parseOGG(buf []byte) (*Metadata, error) {
	samples, format, err := oggvorbis.GetLength(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	md := &Metadata{
		Codec:      "Vorbis I",
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Bitrate:    format.Bitrate.Nominal,
	}
	if format.SampleRate > 0 {
		md.Duration = float64(samples) / float64(format.SampleRate)
	}
	return md, nil
}

func parseMP4(buf []byte) (*Metadata, error) {
	info, err := mp4.Probe(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	md := &Metadata{Codec: "MPEG-4/AAC"}
	if info.Timescale > 0 {
		md.Duration = float64(info.Duration) / float64(info.Timescale)
	}
	for _, tr := range info.Tracks {
		if tr.Codec != mp4.CodecMP4A {
			continue
		}
		// 音轨的 timescale 通常就是采样率
		md.SampleRate = int(tr.Timescale)
		if tr.MP4A != nil {
			md.Channels = int(tr.MP4A.ChannelCount)
		}
		if md.Duration == 0 && tr.Timescale > 0 {
			md.Duration = float64(tr.Duration) / float64(tr.Timescale)
		}
		break
	}
	return md, nil
}

func parseWAV(buf []byte) (*Metadata, error) {
	d := wav.NewDecoder(bytes.NewReader(buf))
	if !d.IsValidFile() {
		return nil, errors.New("invalid WAVE header")
	}
	dur, err := d.Duration()
	if err != nil {
		return nil, err
	}
	return &Metadata{
		Codec:      "PCM",
		Duration:   dur.Seconds(),
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		Bitrate:    int(d.AvgBytesPerSec) * 8,
	}, nil
}

// readTags 标签是可选的，读取失败直接忽略
func readTags(buf []byte, md *Metadata) {
	m, err := tag.ReadFrom(bytes.NewReader(buf))
	if err != nil {
		return
	}
	md.Title = strings.TrimSpace(m.Title())
	md.Artist = strings.TrimSpace(m.Artist())
	md.Album = strings.TrimSpace(m.Album())
	md.Genre = strings.TrimSpace(m.Genre())
	md.Year = m.Year()
	md.TrackNumber, _ = m.Track()
}
