package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/hookledger/internal/api"
	"github.com/mattjoyce/hookledger/internal/audit"
	"github.com/mattjoyce/hookledger/internal/config"
	"github.com/mattjoyce/hookledger/internal/ledger"
	"github.com/mattjoyce/hookledger/internal/storage"
	"github.com/mattjoyce/hookledger/internal/tui"
	"github.com/mattjoyce/hookledger/internal/tui/watch"
)

const defaultAPIURL = "http://127.0.0.1:8091"

// openLedger opens the configured store for the read-only tools. It takes no
// PID lock; a running server may hold it.
func openLedger(ctx context.Context, cfg *config.Config) (*sql.DB, storage.Dialect, error) {
	dialect := storage.Dialect(cfg.State.Driver)
	db, err := storage.Open(ctx, dialect, cfg.State.Path, cfg.State.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("open ledger: %w", err)
	}
	return db, dialect, nil
}

func runEventsList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	provider := fs.String("provider", "", "Only this provider")
	status := fs.String("status", "", "Only this status (pending, processing, completed, failed)")
	limit := fs.Int("limit", 50, "Maximum rows")
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	filter := ledger.ListFilter{Limit: *limit}
	if *provider != "" {
		p, err := ledger.ParseProvider(*provider)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		filter.Provider = p
	}
	if *status != "" {
		st, err := ledger.ParseStatus(*status)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		filter.Status = st
	}

	cfg, _, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, dialect, err := openLedger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	rows, err := ledger.NewSQLStore(db, dialect).List(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: list events: %v\n", err)
		return 1
	}

	if *jsonOut {
		out := api.EventListResponse{Events: make([]api.EventSummary, 0, len(rows)), Count: len(rows)}
		for _, e := range rows {
			out.Events = append(out.Events, api.Summarize(e))
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Print(tui.EventsTable(rows))
	return 0
}

func runEventsShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(reorderFlags(args)); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: hookledger events show <provider> <event-id>")
		return 1
	}
	provider, err := ledger.ParseProvider(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	key := ledger.Key{Provider: provider, EventID: fs.Arg(1)}

	cfg, _, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, dialect, err := openLedger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	e, err := ledger.NewSQLStore(db, dialect).Get(ctx, key)
	if errors.Is(err, ledger.ErrEventNotFound) {
		fmt.Fprintf(os.Stderr, "Event %s not found\n", key)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: get event: %v\n", err)
		return 1
	}

	trail, err := audit.NewSQLSink(db, dialect).List(ctx, key.EventID, string(key.Provider), 200)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: audit trail unavailable: %v\n", err)
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(api.Detail(e, trail), "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Print(tui.EventDetail(e, trail))
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("api-url", "", "Ops API URL")
	apiKey := fs.String("api-key", os.Getenv("HOOKLEDGER_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	url := *apiURL
	if url == "" {
		url = defaultAPIURL
		if cfg, _, err := loadConfigForTool(*configPath); err == nil && cfg.API.Listen != "" {
			url = "http://" + cfg.API.Listen
		}
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or HOOKLEDGER_API_KEY env var.")
		return 1
	}

	m := watch.New(url, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
