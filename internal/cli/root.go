package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cdpbridge/internal/config"
	"cdpbridge/internal/logger"
	"cdpbridge/pkg/api"

	"github.com/spf13/cobra"
)

// 版本信息（构建时注入）
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "cdpbridge",
	Short: "Relay game traffic captured over the Chrome DevTools Protocol",
	Long: `cdpbridge attaches to a browser debug port, captures API responses and
assets of the embedded game and relays them to a local collector over
websocket, falling back to HTTP POST while the socket is down.`,
	SilenceUsage: true,
	RunE:         runBridge,
}

// Execute 执行根命令
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path (YAML)")
	rootCmd.Flags().String("host", "", "Debug host (default 127.0.0.1)")
	rootCmd.Flags().IntP("port", "p", 0, "Debug port (default 9222)")
	rootCmd.Flags().StringP("filter", "f", "", "Target url filter, case-insensitive regex")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("status-listen", "", "Address for /healthz, /channels and /metrics (disabled when empty)")
	rootCmd.Flags().Bool("observe-api", false, "Also capture API traffic on the observation path")
	rootCmd.Flags().Bool("no-intercept", false, "Disable response-stage interception")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cdpbridge %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

// loadConfig 读取配置文件与环境变量，再以显式给出的命令行参数覆盖
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.CDP.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.CDP.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("filter") {
		cfg.CDP.Filter, _ = flags.GetString("filter")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("status-listen") {
		cfg.Status.Listen, _ = flags.GetString("status-listen")
	}
	if flags.Changed("observe-api") {
		cfg.Capture.ObserveAPI, _ = flags.GetBool("observe-api")
	}
	if noIntercept, _ := flags.GetBool("no-intercept"); noIntercept {
		cfg.Capture.Intercept = false
	}
	return cfg, cfg.Validate()
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Writer:     cfg.Log.Writer,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	log.Info("启动", "version", version, "devtools", cfg.DevToolsURL())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = api.NewService(cfg, log).Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("收到退出信号")
		return nil
	}
	if err != nil {
		log.Err(err, "运行结束")
	}
	return err
}
