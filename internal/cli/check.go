package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/life2you_mini/bridgesync/internal/config"
	"github.com/life2you_mini/bridgesync/internal/model"
	"github.com/life2you_mini/bridgesync/internal/services"
)

type checkReport struct {
	Healthy       bool                 `json:"healthy"`
	TotalAccounts int                  `json:"total_accounts"`
	ExpectedTotal int                  `json:"expected_total"`
	Bridges       []model.BridgeStatus `json:"bridges"`
	CheckedAt     time.Time            `json:"checked_at"`
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate bridge health once and print JSON",
		Long: `Read the sync store once, classify every configured bridge and print the
result as JSON. No alerts are written and no restarts are triggered.
Exits with status 1 when any bridge is unhealthy.

Example:
  bridgesync check --config config/config.yaml --timeout 15s`,
		RunE: runCheck,
	}
	cmd.Flags().Duration("timeout", 30*time.Second, "检查超时时间")
	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath(cmd))
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	// 标准输出只留给JSON结果
	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	logCfg.OutputPaths = []string{"stderr"}
	log, err := logCfg.Build()
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = log.Sync() }()

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	statuses, err := services.CheckOnce(ctx, cfg, log)
	if err != nil {
		return err
	}

	report := checkReport{Healthy: true, Bridges: statuses, CheckedAt: time.Now().UTC()}
	for _, st := range statuses {
		report.TotalAccounts += st.ActualAccounts
		report.ExpectedTotal += st.ExpectedAccounts
		report.Healthy = report.Healthy && st.Healthy()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("输出结果失败: %w", err)
	}

	if !report.Healthy {
		return errUnhealthy
	}
	return nil
}
