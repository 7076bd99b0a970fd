package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"meuwsic/core/ingest"
	"meuwsic/logger"

	"github.com/cheggaaa/pb/v3"
	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	importConcurrency int
	importWatch       string
)

// 写入完成后静置多久才开始处理
const settleDelay = 500 * time.Millisecond

// audioExtensions 按扩展名推断 MIME
var audioExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".aac":  "audio/aac",
}

var importCmd = &cobra.Command{
	Use:   "import [files|dirs...]",
	Short: "从本地导入音频",
	Long:  `通过与 HTTP 上传相同的流水线导入本地文件或目录，目录会递归扫描音频文件`,
	Example: `  meuwsic import song.mp3 album/
  meuwsic import --concurrency 8 ~/Music
  meuwsic import --watch ./inbox`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().IntVarP(&importConcurrency, "concurrency", "c", 4, "并行处理的文件数")
	importCmd.Flags().StringVarP(&importWatch, "watch", "w", "", "持续监听目录，新文件写入后自动导入")
}

// ingester 导入只需要编排器的单文件入口
type ingester interface {
	Ingest(ctx context.Context, in ingest.Input) ingest.Result
}

func runImport(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && importWatch == "" {
		return errors.New("nothing to import: pass files, directories or --watch")
	}
	if importConcurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1, got %d", importConcurrency)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	out := cmd.OutOrStdout()
	if len(args) > 0 {
		paths, err := collectAudioFiles(args)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			colorWarning.Fprintln(out, "没有找到音频文件")
		} else {
			colorInfo.Fprintf(out, "开始导入 %d 个文件\n", len(paths))
			results := importFiles(ctx, svc.pipeline, paths, importConcurrency, isTTY())
			printSummary(out, results)
		}
	}

	if importWatch == "" {
		return nil
	}
	colorInfo.Fprintf(out, "正在监听 %s，按 Ctrl+C 退出\n", importWatch)
	return watchDir(ctx, importWatch, func(path string) {
		res := svc.pipeline.Ingest(ctx, localInput(path))
		printResult(out, res)
	})
}

// collectAudioFiles 展开参数：文件原样保留，目录递归收集已知音频扩展名
func collectAudioFiles(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if isAudioFile(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", arg, err)
		}
	}
	return paths, nil
}

func isAudioFile(path string) bool {
	_, ok := audioExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// mimeForPath 先按扩展名，未知扩展名再嗅探内容
func mimeForPath(path string) string {
	if mt, ok := audioExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

func localInput(path string) ingest.Input {
	return ingest.Input{
		Filename: filepath.Base(path),
		MimeType: mimeForPath(path),
		Path:     path,
	}
}

// importFiles 最多 concurrency 个文件并行，结果顺序与 paths 一致
func importFiles(ctx context.Context, p ingester, paths []string, concurrency int, progress bool) []ingest.Result {
	results := make([]ingest.Result, len(paths))

	var bar *pb.ProgressBar
	if progress {
		bar = pb.New(len(paths))
		bar.SetTemplateString(`{{ string . "prefix" }} {{ counters . }} {{ bar . }} {{ percent . }} | ETA {{ rtime . "%s" }}`)
		bar.Set("prefix", "Importing")
		bar.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, path := range paths {
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = ingest.Result{Filename: filepath.Base(path), Error: "import cancelled",
					ErrorType: ingest.CategoryUnknown}
				return nil
			}
			results[i] = p.Ingest(gctx, localInput(path))
			if bar != nil {
				bar.Increment()
			}
			return nil
		})
	}
	g.Wait()

	if bar != nil {
		bar.Finish()
	}
	return results
}

func printResult(w io.Writer, r ingest.Result) {
	if r.Success {
		colorSuccess.Fprintf(w, "✓ %s -> %s\n", r.Filename, r.Key)
		return
	}
	colorError.Fprintf(w, "✗ %s [%s] %s\n", r.Filename, r.ErrorType, r.Error)
}

func printSummary(w io.Writer, results []ingest.Result) {
	for _, r := range results {
		if !r.Success {
			printResult(w, r)
		}
	}
	summary, message := ingest.Summarize(results)
	if summary.Failed > 0 {
		colorWarning.Fprintln(w, message)
		return
	}
	colorSuccess.Fprintln(w, message)
}

// watchDir 监听目录中新写入的音频文件，文件在 settleDelay 内没有新的写入才交给 handle
func watchDir(ctx context.Context, dir string, handle func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(settleDelay / 5)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && isAudioFile(event.Name) {
				pending[event.Name] = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("目录监听出错", logger.String("dir", dir), logger.ErrorField(err))

		case <-ticker.C:
			now := time.Now()
			for path, last := range pending {
				if now.Sub(last) < settleDelay {
					continue
				}
				delete(pending, path)
				if _, err := os.Stat(path); err != nil {
					continue
				}
				handle(path)
			}
		}
	}
}
