package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/akovalev/syncbridge/internal/config"
	"github.com/akovalev/syncbridge/internal/entrypoint"
)

// Version information - set at build time via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	// If no arguments or "serve" command, run the HTTP server
	if len(os.Args) < 2 || os.Args[1] == "serve" {
		cfg := config.NewConfig()
		entrypoint.Run(cfg, Version)
		return
	}

	command := os.Args[1]

	switch command {
	case "sync":
		if err := runSync(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "status":
		if err := runStatus(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "-h", "--help", "help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// runSync performs a single queue drain and reports the outcome.
func runSync() error {
	app, err := entrypoint.Build(config.NewConfig())
	if err != nil {
		return err
	}
	defer app.Close()

	if !app.Remote.IsAvailable() {
		return fmt.Errorf("remote backend is not configured; set REMOTE_URL and REMOTE_API_KEY")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := app.SyncService.ProcessQueue(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Synced %d item(s), %d permanently failed\n", result.Processed, result.Failed)
	return nil
}

// runStatus prints the current queue counts and last sync time.
func runStatus() error {
	app, err := entrypoint.Build(config.NewConfig())
	if err != nil {
		return err
	}
	defer app.Close()

	status, err := app.SyncService.Status()
	if err != nil {
		return err
	}

	fmt.Printf("Queue: %d total (%d pending, %d failed)\n", status.Total, status.Pending, status.Failed)
	if status.LastSyncAt != nil {
		fmt.Printf("Last sync: %s\n", status.LastSyncAt.Format(time.RFC3339))
	} else {
		fmt.Println("Last sync: never")
	}
	if app.Remote.IsAvailable() {
		fmt.Println("Remote: configured")
	} else {
		fmt.Println("Remote: not configured")
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve   Start the HTTP server (default if no command given)\n")
	fmt.Fprintf(os.Stderr, "  sync    Drain the offline write queue once and exit\n")
	fmt.Fprintf(os.Stderr, "  status  Print queue counts and the last sync time\n")
}
