package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"assembly-line-sim/internal/config"
	"assembly-line-sim/internal/engine"
	"assembly-line-sim/internal/graph"
)

// rootOptions 所有子命令共享的参数
type rootOptions struct {
	configPath string
	logLevel   string
}

// newRootCmd 构建命令树
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "linesim",
		Short:         "Tick-based discrete-event simulator for a vehicle final-assembly line",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config.yaml (default: ./config.yaml if present)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(opts), newValidateCmd(opts), newLayoutCmd(opts), newReportCmd(opts))
	return root
}

// newLogger JSON 结构化日志，写到 stdout
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
}

// loadChecked 加载配置并完成所有启动前校验：配置项、依赖图和作业指令规则
func loadChecked(path string) (*config.Config, *graph.Graph, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if err := checkConfig(cfg); err != nil {
		return nil, nil, err
	}
	g, err := graph.New(cfg.StationSpecs())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid station graph: %w", err)
	}
	return cfg, g, nil
}

func checkConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := engine.ValidateOrderRules(cfg.WorkOrders); err != nil {
		return fmt.Errorf("invalid work order rules: %w", err)
	}
	return nil
}
