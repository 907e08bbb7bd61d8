package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/socratic-shell/symposium-sub000/internal/busd"
	"github.com/socratic-shell/symposium-sub000/internal/paths"
)

var (
	debugPrefix string
	debugCount  int
	debugJSON   bool
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debugging utilities for a running busd daemon",
}

var debugDumpMessagesCmd = &cobra.Command{
	Use:   "dump-messages",
	Short: "Print the daemon's recent message history",
	Long:  "Connect to a running busd daemon, request its message history via #history, and print it either as a styled table or as raw JSON.",
	RunE:  runDebugDumpMessages,
}

func init() {
	debugDumpMessagesCmd.Flags().StringVar(&debugPrefix, "prefix", "", "socket/PID name segment (required)")
	debugDumpMessagesCmd.Flags().IntVar(&debugCount, "count", 0, "number of recent messages to request (0 = all retained)")
	debugDumpMessagesCmd.Flags().BoolVar(&debugJSON, "json", false, "print raw JSON instead of a table")
	_ = debugDumpMessagesCmd.MarkFlagRequired("prefix")
	debugCmd.AddCommand(debugDumpMessagesCmd)
	rootCmd.AddCommand(debugCmd)
}

func runDebugDumpMessages(cmd *cobra.Command, args []string) error {
	socketPath := paths.SocketPath(debugPrefix)

	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w", socketPath, err)
	}
	defer conn.Close()

	query := "#history"
	if debugCount > 0 {
		query = fmt.Sprintf("#history:%d", debugCount)
	}
	if _, err := conn.Write([]byte(query + "\n")); err != nil {
		return fmt.Errorf("send history request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read history reply: %w", err)
	}

	var entries []busd.HistoryEntry
	if err := json.Unmarshal(line, &entries); err != nil {
		return fmt.Errorf("parse history reply: %w", err)
	}

	if debugJSON {
		out, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	printHistoryTable(entries)
	return nil
}

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tableRowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	tableSenderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

func printHistoryTable(entries []busd.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Println(tableRowStyle.Render("(no messages retained)"))
		return
	}

	fmt.Println(tableHeaderStyle.Render(fmt.Sprintf("%-26s %-16s %s", "TIME", "SENDER", "LINE")))
	for _, e := range entries {
		ts := e.Timestamp.Format(time.RFC3339)
		sender := tableSenderStyle.Render(fmt.Sprintf("%-16s", e.Sender))
		fmt.Printf("%-26s %s %s\n", ts, sender, string(e.Line))
	}
}
