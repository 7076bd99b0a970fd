package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"meuwsic/storage"

	"github.com/spf13/cobra"
)

var (
	storagePrefix    string
	storageDeleteAll bool
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "对象存储管理",
	Long:  `查看和清理存储桶中的音频对象`,
}

var storageLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "列出对象及统计信息",
	Example: `  meuwsic storage ls
  meuwsic storage ls --prefix music/`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		return listObjects(cmd.Context(), store, storagePrefix, cmd.OutOrStdout())
	},
}

var storageRmCmd = &cobra.Command{
	Use:   "rm [keys...]",
	Short: "删除对象",
	Example: `  meuwsic storage rm music/1700000000000-abcd1234-song.mp3
  meuwsic storage rm --all --prefix music/`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !storageDeleteAll {
			return errors.New("pass object keys or --all")
		}
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		return removeObjects(cmd.Context(), store, args, storageDeleteAll, storagePrefix, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(storageLsCmd, storageRmCmd)

	storageCmd.PersistentFlags().StringVarP(&storagePrefix, "prefix", "p", "", "按前缀过滤对象")
	storageRmCmd.Flags().BoolVar(&storageDeleteAll, "all", false, "删除前缀下的全部对象")
}

func openStore(ctx context.Context) (*storage.MinioStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.NewMinioStore(ctx, cfg.Storage)
}

func listObjects(ctx context.Context, store storage.BlobStore, prefix string, out io.Writer) error {
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tLAST MODIFIED\tCONTENT TYPE")
	for _, obj := range objects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", obj.Key, storage.FormatSize(obj.Size),
			obj.LastModified.Format("2006-01-02 15:04:05"), obj.ContentType)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	stats := storage.Summarize(objects)
	colorInfo.Fprintf(out, "\n共 %d 个对象，%s\n", stats.TotalObjects, storage.FormatSize(stats.TotalSize))
	return nil
}

func removeObjects(ctx context.Context, store storage.BlobStore, keys []string, all bool, prefix string, out io.Writer) error {
	if all {
		objects, err := store.List(ctx, prefix)
		if err != nil {
			return err
		}
		keys = keys[:0]
		for _, obj := range objects {
			keys = append(keys, obj.Key)
		}
	}

	var failed int
	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			failed++
			colorError.Fprintf(out, "✗ %s: %v\n", key, err)
			continue
		}
		fmt.Fprintf(out, "已删除 %s\n", key)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d deletions failed", failed, len(keys))
	}
	colorSuccess.Fprintf(out, "删除完成，共 %d 个对象\n", len(keys))
	return nil
}
