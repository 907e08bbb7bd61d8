package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/socratic-shell/symposium-sub000/internal/busd"
	"github.com/socratic-shell/symposium-sub000/internal/config"
	"github.com/socratic-shell/symposium-sub000/internal/logging"
)

var (
	daemonPrefix       string
	daemonParentPID    int
	daemonIdleTimeout  int
	daemonHistorySize  int
	daemonMaxLineBytes int
	daemonDevLog       bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the busd broadcast daemon in the foreground",
	Long:  "Run the busd broadcast daemon: binds a Unix socket and fans out every line received from one peer to every other connected peer, until idle timeout or the parent process disappears.",
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonPrefix, "prefix", "", "socket/PID name segment (required)")
	daemonCmd.Flags().IntVar(&daemonParentPID, "parent-pid", 0, "PID to supervise; daemon exits once this process disappears")
	daemonCmd.Flags().IntVar(&daemonIdleTimeout, "idle-timeout", 0, "seconds with zero peers before auto-shutdown (default 30)")
	daemonCmd.Flags().IntVar(&daemonHistorySize, "history-size", 0, "message history ring capacity (default 1000)")
	daemonCmd.Flags().IntVar(&daemonMaxLineBytes, "max-line-bytes", 0, "max bytes per line before a peer is dropped (default 1 MiB)")
	daemonCmd.Flags().BoolVar(&daemonDevLog, "dev-log", false, "also write a rotating log file")
	_ = daemonCmd.MarkFlagRequired("prefix")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := logging.ParseLevel(cfg.GetLogLevel())
	devLog := daemonDevLog || (cfg != nil && cfg.Daemon.DevLog)
	var logCleanup func()
	if devLog {
		logCleanup, err = logging.SetupMulti("", os.Stderr, logLevel)
	} else {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
		logCleanup = func() {}
	}
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCleanup()

	opts := busd.Options{
		Prefix:        daemonPrefix,
		ParentPID:     daemonParentPID,
		IdleTimeout:   resolveIdleTimeout(daemonIdleTimeout, cfg),
		HistorySize:   resolveHistorySize(daemonHistorySize, cfg),
		MaxLineBytes:  resolveMaxLineBytes(daemonMaxLineBytes, cfg),
		AdminPrefixes: adminPrefixes(cfg),
	}

	srv := busd.NewServer(opts)

	pidPath := busd.DefaultPIDPath(daemonPrefix)
	busd.CleanStalePID(pidPath)
	if err := busd.WritePID(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = busd.RemovePID(pidPath) }()

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	srv.Shutdown(context.Background(), fmt.Sprintf("received %s", sig))
	return nil
}

func resolveIdleTimeout(flagSeconds int, cfg *config.GlobalConfig) time.Duration {
	if flagSeconds > 0 {
		return time.Duration(flagSeconds) * time.Second
	}
	if cfg != nil && cfg.Daemon.IdleTimeoutSeconds > 0 {
		return time.Duration(cfg.Daemon.IdleTimeoutSeconds) * time.Second
	}
	return 0 // busd.Server applies its own default
}

func resolveHistorySize(flagValue int, cfg *config.GlobalConfig) int {
	if flagValue > 0 {
		return flagValue
	}
	if cfg != nil && cfg.Daemon.HistorySize > 0 {
		return cfg.Daemon.HistorySize
	}
	return 0
}

func resolveMaxLineBytes(flagValue int, cfg *config.GlobalConfig) int {
	if flagValue > 0 {
		return flagValue
	}
	if cfg != nil && cfg.Daemon.MaxLineBytes > 0 {
		return cfg.Daemon.MaxLineBytes
	}
	return 0
}

func adminPrefixes(cfg *config.GlobalConfig) []string {
	if cfg == nil {
		return nil
	}
	return cfg.Daemon.AdminPrefixes
}
