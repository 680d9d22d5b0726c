package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbmetrics-agent/pkg/config"
)

// Version 构建时通过 -ldflags "-X" 注入
var Version = "dev"

var (
	cfgFile   string
	GlobalCfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "dbmetrics-agent",
	Short:   "Polls bound MongoDB and Redis services and forwards their status metrics",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		var err error
		GlobalCfg, err = config.LoadConfigWithCli(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "请检查配置文件路径或使用 -c 参数指定\n")
			os.Exit(1)
		}
		if err := run(cmd.Context(), GlobalCfg); err != nil {
			fmt.Fprintf(os.Stderr, "服务启动失败: %v\n", err)
			os.Exit(1)
		}
		return nil
	},
}

func Execute() {
	cobra.CheckErr(rootCmd.ExecuteContext(context.Background()))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径")
	// 注册分组 flag
	initServerFlags(rootCmd)
	initMonitorFlags(rootCmd)
	initSinkFlags(rootCmd)
	initLogFlags(rootCmd)
}
