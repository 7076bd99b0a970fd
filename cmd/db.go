package cmd

import (
	"context"
	"fmt"
	"io"

	"meuwsic/db"
	"meuwsic/repository"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "数据库工具",
}

var dbPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "测试数据库连接",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gdb, err := db.ConnectGormDB(cfg.DB)
		if err != nil {
			return err
		}
		defer db.Close(gdb)

		elapsed, err := db.Ping(cmd.Context(), gdb)
		if err != nil {
			return err
		}
		colorSuccess.Fprintf(cmd.OutOrStdout(), "数据库连接正常，耗时 %s\n", elapsed)
		return nil
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "迁移表结构",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gdb, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close(gdb)
		fmt.Fprintln(cmd.OutOrStdout(), "表结构迁移完成")
		return seedSystemUser(cmd.Context(), repository.NewGormCatalogRepository(gdb), cmd.OutOrStdout())
	},
}

// seedSystemUser 迁移后预先创建系统上传账号
func seedSystemUser(ctx context.Context, repo repository.CatalogRepository, w io.Writer) error {
	user, err := repo.EnsureSystemUser(ctx)
	if err != nil {
		return fmt.Errorf("ensure system user: %w", err)
	}
	fmt.Fprintf(w, "系统账号: %s (%s)\n", user.Email, user.ID)
	return nil
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbPingCmd, dbMigrateCmd)
}
