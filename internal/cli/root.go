// Package cli 命令行入口
package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// 默认配置文件路径
const defaultConfigPath = "config/config.yaml"

// errUnhealthy check 命令发现异常桥接时返回，进程以1退出
var errUnhealthy = errors.New("存在不健康的桥接")

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bridgesync",
		Short: "Broker bridge synchronization and health monitoring",
		Long: `bridgesync polls broker terminals (MT4/MT5 REST bridges and ccxt exchanges),
keeps one canonical snapshot per trading account, records every deal exactly once,
and watches each bridge for stale data or missing accounts.

Commands:
  serve   - run bridge agents, health monitor, recovery and the HTTP API
  check   - evaluate bridge health once and print JSON
  config  - generate or validate configuration files`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", defaultConfigPath, "配置文件路径")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newConfigCmd())
	return root
}

// Execute 执行根命令
func Execute() error {
	return NewRootCmd().Execute()
}

func configPath(cmd *cobra.Command) string {
	path, err := cmd.Flags().GetString("config")
	if err != nil || path == "" {
		return defaultConfigPath
	}
	return path
}
