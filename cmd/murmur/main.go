package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nreeve/murmur/internal/logger"
	"github.com/nreeve/murmur/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"create": true, "show": true, "list": true, "edit": true,
	"undo": true, "delete": true, "retry": true, "process": true,
	"export": true, "backup": true, "backups": true, "restore": true,
	"doctor": true, "migrate": true, "streak": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
  murmur - secure local voice journal

  Usage: murmur <command> [options]
         murmur --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before any wiring (nothing needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, ".murmur")

	// MCP mode owns stdout for the protocol; logs go to stderr either way.
	log := logger.Setup(os.Stderr)

	svc, err := buildServices(baseDir, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(svc)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'murmur --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default): background pipeline and backup timers run
	// for the lifetime of the server.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.orchestrator.Start(ctx)
	if err := svc.orchestrator.Resume(); err != nil {
		log.Error("failed to resume in-flight entries", "error", err.Error())
	}
	go svc.newBackupScheduler().Start(ctx)

	handlers := mcp.NewHandlers(svc.store, svc.orchestrator, svc.backups, svc.monitor, svc.cfg)
	if err := mcp.Run(handlers, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
