package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/hookledger/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "events":
		return runEventsNoun(args)
	case "sign":
		if hasHelpFlag(args) {
			printSignHelp()
			return 0
		}
		return runSign(args)

	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: hookledger version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("hookledger %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`hookledger - idempotent webhook ingestion

Usage:
  hookledger <noun> <action> [flags]

System Commands:
  system start      Start the webhook listener, sweeper and ops API
  system watch      Live delivery dashboard (TUI)

Config Commands:
  config check      Validate syntax, secrets and integrity
  config lock       Write .checksums for every file in the include tree
  config get <path> Print a (redacted) config value

Events Commands:
  events list       List ledger rows
  events show       Show one ledger row and its audit trail
  events watch      Alias for system watch

Tools:
  sign              Sign a payload the way a provider would

General:
  version           Show version information
  help              Show this help message

Use 'hookledger <noun> help' for action-specific flags.
`)
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			printConfigGetHelp()
			return 0
		}
		return runConfigGet(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runEventsNoun(args []string) int {
	if len(args) < 1 {
		printEventsNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printEventsNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printEventsListHelp()
			return 0
		}
		return runEventsList(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printEventsShowHelp()
			return 0
		}
		return runEventsShow(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown events action: %s\n", action)
		return 1
	}
}

// loadConfigForTool loads configPath, or the discovered config when empty.
func loadConfigForTool(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, "", err
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hookledger system <start|watch> [flags]")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hookledger config <check|lock|get> [flags]")
}

func printEventsNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hookledger events <list|show|watch> [flags]")
}

func printSystemStartHelp() {
	fmt.Println("Usage: hookledger system start [--config PATH]")
	fmt.Println("Run the webhook listener, recovery sweeper and ops API in the foreground.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: hookledger config check [--config PATH] [--strict] [--json]")
	fmt.Println("Load and validate configuration. Exit 1 on errors, 2 on warnings with --strict.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: hookledger config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Write BLAKE3 .checksums for the root config and every included file.")
}

func printConfigGetHelp() {
	fmt.Println("Usage: hookledger config get <path> [--config PATH] [--json] [--origin]")
	fmt.Println("Paths are dotted (webhooks.listen) or entity addresses (endpoint:/webhooks/payments).")
}

func printEventsListHelp() {
	fmt.Println("Usage: hookledger events list [--config PATH] [--provider P] [--status S] [--limit N] [--json]")
}

func printEventsShowHelp() {
	fmt.Println("Usage: hookledger events show <provider> <event-id> [--config PATH] [--json]")
}

func printWatchHelp() {
	fmt.Println("Usage: hookledger events watch [flags]")
	fmt.Println()
	fmt.Println("Live view of deliveries, in-flight attempts and ledger totals.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Ops API URL (default: from config, else http://127.0.0.1:8091)")
	fmt.Println("  --api-key KEY    Bearer token with events:ro (or HOOKLEDGER_API_KEY)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ←/→, h/l         Select provider")
	fmt.Println("  ↑/↓, k/j         Scroll in-flight deliveries")
}

func printSignHelp() {
	fmt.Println("Usage: hookledger sign --provider P (--secret S | --endpoint PATH [--config PATH]) [--signing-url URL] [--file F]")
	fmt.Println("Print the signature header a provider would send for the payload (stdin by default).")
}
