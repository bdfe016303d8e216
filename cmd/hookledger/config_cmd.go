package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/hookledger/internal/config"
	"github.com/mattjoyce/hookledger/internal/ledger"
)

type checkResult struct {
	Valid     bool     `json:"valid"`
	Config    string   `json:"config,omitempty"`
	Endpoints []string `json:"endpoints,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	result := checkResult{Valid: true}
	cfg, resolved, err := loadConfigForTool(configPath)
	result.Config = resolved
	if err != nil {
		result.Valid = false
		result.Errors = strings.Split(err.Error(), "\n")
	} else {
		for _, ep := range cfg.Webhooks.Endpoints {
			result.Endpoints = append(result.Endpoints, fmt.Sprintf("%s (%s)", ep.Path, ep.Provider))
		}
		result.Warnings = configWarnings(cfg)
	}

	if jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else {
		printCheckResult(result)
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func printCheckResult(r checkResult) {
	if r.Config != "" {
		fmt.Printf("config: %s\n", r.Config)
	}
	for _, e := range r.Errors {
		fmt.Printf("  ERROR %s\n", e)
	}
	for _, w := range r.Warnings {
		fmt.Printf("  WARN  %s\n", w)
	}
	for _, ep := range r.Endpoints {
		fmt.Printf("  endpoint %s\n", ep)
	}
	if r.Valid {
		fmt.Println("OK")
	} else {
		fmt.Println("INVALID")
	}
}

// configWarnings reports settings that load fine but are likely mistakes.
func configWarnings(cfg *config.Config) []string {
	var warnings []string
	if len(cfg.Webhooks.Endpoints) == 0 {
		warnings = append(warnings, "webhooks.endpoints is empty; every request will 404")
	}
	if cfg.Recovery.StaleAfter == 0 {
		warnings = append(warnings, "recovery.stale_after is 0; rows abandoned in processing are never retried")
	} else if cfg.Webhooks.HandlerTimeout > 0 && cfg.Recovery.StaleAfter <= cfg.Webhooks.HandlerTimeout+cfg.Webhooks.FinalizeTimeout {
		warnings = append(warnings, "recovery.stale_after is not longer than handler_timeout + finalize_timeout; live attempts may be demoted")
	}
	for i, ep := range cfg.Webhooks.Endpoints {
		prefix := fmt.Sprintf("webhooks.endpoints[%d] (%s)", i, ep.Path)
		if ep.Handler == nil {
			warnings = append(warnings, prefix+": no handler; deliveries are recorded only")
		}
		if ep.Secret != "" {
			warnings = append(warnings, prefix+": inline secret; prefer secret_ref")
		}
		if ep.Provider == string(ledger.ProviderSMS) && ep.SigningURL == "" {
			warnings = append(warnings, prefix+": sms endpoint without signing_url; provider signatures include the URL")
		}
	}
	if cfg.API.Enabled && cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
		warnings = append(warnings, "api is enabled with no api_key or tokens; every protected route returns 401")
	}
	return warnings
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		configPath = discovered
	}

	files, err := config.DiscoverAllConfigFiles(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config files: %v\n", err)
		return 1
	}

	reports, err := config.LockFiles(files, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	for _, report := range reports {
		if isVerbose {
			fmt.Printf("Processing directory: %s\n", report.ConfigDir)
			for _, f := range report.Files {
				fmt.Printf("  HASH %s %s\n", f.Hash[:16], f.Filename)
			}
		}
		if dryRun {
			fmt.Printf("DRY-RUN %s (not written)\n", report.ChecksumPath)
		} else {
			fmt.Printf("WROTE %s\n", report.ChecksumPath)
		}
	}
	return 0
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	origin := fs.Bool("origin", false, "Also print the file(s) that set the value")
	if err := fs.Parse(reorderFlags(args)); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hookledger config get <path> [--json]")
		return 1
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	val, err := cfg.GetPath(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	switch v := val.(type) {
	case string, bool, int, float64, nil:
		if *jsonOut {
			data, _ := json.Marshal(v)
			fmt.Println(string(data))
		} else {
			fmt.Printf("%v\n", v)
		}
	default:
		if *jsonOut {
			data, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(data))
		} else {
			data, _ := yaml.Marshal(v)
			fmt.Print(string(data))
		}
	}

	if *origin && !strings.Contains(path, ":") {
		for _, f := range cfg.Origin(path) {
			fmt.Fprintf(os.Stderr, "# from %s\n", f)
		}
	}
	return 0
}

// reorderFlags moves flags ahead of positional arguments so
// "get webhooks.listen --json" parses the same as "get --json webhooks.listen".
func reorderFlags(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		if (a == "--config" || a == "-config") && i+1 < len(args) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	return append(flags, positional...)
}
