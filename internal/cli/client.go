package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/socratic-shell/symposium-sub000/internal/config"
	"github.com/socratic-shell/symposium-sub000/internal/dispatch"
	"github.com/socratic-shell/symposium-sub000/internal/envelope"
	"github.com/socratic-shell/symposium-sub000/internal/logging"
	"github.com/socratic-shell/symposium-sub000/internal/transport"
)

var (
	clientPrefix         string
	clientIdentityPrefix string
	clientWorkingDir     string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Bridge stdin/stdout to the busd bus",
	Long:  "Connect to (or spawn) the busd daemon and bridge it to stdio: one envelope per line in on stdin is sent, and every inbound envelope is printed one line per envelope on stdout.",
	RunE:  runClient,
}

func init() {
	clientCmd.Flags().StringVar(&clientPrefix, "prefix", "", "socket/PID name segment (required)")
	clientCmd.Flags().StringVar(&clientIdentityPrefix, "identity-prefix", "", "display prefix sent via #identify")
	clientCmd.Flags().StringVar(&clientWorkingDir, "working-dir", "", "working directory to report as sender (default: current directory)")
	_ = clientCmd.MarkFlagRequired("prefix")
	rootCmd.AddCommand(clientCmd)
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logging.ParseLevel(cfg.GetLogLevel())})))

	identityPrefix := clientIdentityPrefix
	if identityPrefix == "" && cfg != nil {
		identityPrefix = cfg.Client.IdentityPrefix
	}

	workingDir := clientWorkingDir
	if workingDir == "" {
		workingDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("getwd: %w", err)
		}
	}
	pid := os.Getpid()
	self := &envelope.Sender{WorkingDirectory: workingDir, ShellPID: &pid}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := bufio.NewWriter(os.Stdout)

	var disp *dispatch.Dispatcher
	sink := func(env *envelope.Envelope) {
		if disp != nil {
			disp.HandleInbound(ctx, env)
		}
		line, err := env.MarshalLine()
		if err != nil {
			return
		}
		out.Write(line)
		out.Flush()
	}

	tr, err := transport.Start(ctx, clientPrefix, os.Getpid(), identityPrefix, sink)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer tr.Shutdown()

	disp = dispatch.New(self, tr)
	defer disp.Close()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := envelope.ParseLine(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "busd: ignoring malformed stdin line: %v\n", err)
			continue
		}
		if env.Sender == nil {
			env.Sender = self
		}
		if err := disp.SendOneway(ctx, env); err != nil {
			fmt.Fprintf(os.Stderr, "busd: send failed: %v\n", err)
		}
	}

	return scanner.Err()
}
