package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "meuwsic",
	Short: "MEUWSIC 音乐上传与播放服务",
	Long:  `MEUWSIC 接收管理员上传的音频文件，校验后写入对象存储与曲库，并提供按范围读取的播放接口。`,
	// 不带子命令时直接启动服务
	RunE:          runServer,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		colorError.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
