package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/banshee-data/process.report/internal/db"
	"github.com/banshee-data/process.report/internal/version"
)

// runCommand dispatches the management subcommands that run and exit
// instead of starting the station daemon.
func runCommand(args []string) {
	switch args[0] {
	case "migrate":
		db.RunMigrateCommand(args[1:], *dbPath)
	case "spc":
		runSPCCommand(args[1:])
	case "version":
		printVersion(os.Stdout)
	case "help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

// runSPCCommand handles the 'spc' subcommand, sharing the daemon's
// tuning config and database flags.
func runSPCCommand(args []string) {
	cfg, err := loadTuningConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}

	database, err := openDatabase(*dbPath, *autoMigrate)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	cli := db.NewSPCCLI(database, cfg.GetHistoryWindow(), cfg.GetMinSubgroupSize(), os.Stdout)
	if len(args) < 1 {
		cli.PrintUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	switch args[0] {
	case "status":
		err = cli.Status(ctx)
	case "recalc":
		if len(args) < 2 {
			log.Fatal("Usage: process-report spc recalc <characteristic-id>")
		}
		id, parseErr := strconv.ParseInt(args[1], 10, 64)
		if parseErr != nil {
			log.Fatalf("Invalid characteristic id %q: %v", args[1], parseErr)
		}
		_, err = cli.Recalc(ctx, id)
	case "rerun":
		err = cli.Rerun(ctx)
	case "ack":
		if len(args) < 2 {
			log.Fatal("Usage: process-report spc ack <violation-id>")
		}
		id, parseErr := strconv.ParseInt(args[1], 10, 64)
		if parseErr != nil {
			log.Fatalf("Invalid violation id %q: %v", args[1], parseErr)
		}
		err = cli.Ack(ctx, id)
	default:
		fmt.Fprintf(os.Stderr, "unknown spc command %q\n\n", args[0])
		cli.PrintUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("spc %s failed: %v", args[0], err)
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "process-report %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: process-report [flags] [command]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Without a command the station daemon starts: it monitors the gauge")
	fmt.Fprintln(w, "port, evaluates control charts and serves the dashboard and API.")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  migrate <action>   Manage schema migrations (up, down, status, ...)")
	fmt.Fprintln(w, "  spc <action>       Chart and limit management (status, recalc, rerun, ack)")
	fmt.Fprintln(w, "  version            Print version information")
	fmt.Fprintln(w, "  help               Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'process-report migrate help' or 'process-report spc' for command details.")
}
