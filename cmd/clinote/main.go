package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jwulff/clinote/internal/app"
	"github.com/jwulff/clinote/internal/config"
	"github.com/jwulff/clinote/internal/db"
	"github.com/jwulff/clinote/internal/mcpserver"
	"github.com/jwulff/clinote/internal/observability"

	tea "github.com/charmbracelet/bubbletea"
)

const usage = `usage: clinote [command] [flags]

commands:
  tui     interactive control surface (default)
  run     orchestrator with the capture agent
  agent   capture agent only, for run --agent-socket
  mcp     serve the session archive over MCP stdio

run "clinote <command> -h" for the flags of a command.
`

func main() {
	if err := config.LoadDefaultEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "clinote: env:", err)
	}
	cfg := config.Load()

	name, args := splitCommand(os.Args[1:])
	var err error
	switch name {
	case "tui":
		err = runTUI(cfg, args)
	case "run":
		err = runDaemon(cfg, args)
	case "agent":
		err = runAgent(cfg, args)
	case "mcp":
		err = runMCP(cfg, args)
	case "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "clinote:", err)
		os.Exit(1)
	}
}

// splitCommand separates the subcommand from its flags. Without one, the
// TUI runs.
func splitCommand(args []string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "tui", args
	}
	return args[0], args[1:]
}

func runTUI(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("tui", flag.ExitOnError)
	socket := fs.String("socket", cfg.SocketPath, "orchestrator socket")
	exportDir := fs.String("export-dir", cfg.ExportDir, "directory for exported notes")
	noAltScreen := fs.Bool("no-alt-screen", false, "disable the alternate screen buffer")
	fs.Parse(args)

	// The terminal belongs to the TUI; logs go to a file.
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o700); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	observability.Init(logFile, cfg.LogLevel)

	dir, err := filepath.Abs(*exportDir)
	if err != nil {
		return fmt.Errorf("resolve export dir: %w", err)
	}

	opts := []tea.ProgramOption{}
	if !*noAltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	if _, err := tea.NewProgram(app.New(*socket, dir), opts...).Run(); err != nil {
		return fmt.Errorf("program error: %w", err)
	}
	return nil
}

func runMCP(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	dbPath := fs.String("db", cfg.DBPath, "session archive database")
	fs.Parse(args)

	// stdout carries the protocol.
	observability.Init(os.Stderr, cfg.LogLevel)

	store, err := db.Open(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return mcpserver.ServeStdio(store)
}
