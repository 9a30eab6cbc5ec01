package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/recondor/internal/config"
	"github.com/anstrom/recondor/internal/engine"
	"github.com/anstrom/recondor/internal/orchestrator"
	"github.com/anstrom/recondor/internal/osint"
)

var (
	scanModules string
	scanTimeout time.Duration
	scanJSON    bool
)

// scanCmd runs a one-shot scan in-process, without a running daemon.
var scanCmd = &cobra.Command{
	Use:   "scan [target]",
	Short: "Run a reconnaissance scan against a target",
	Long: `Run a one-shot reconnaissance scan against a target (domain, hostname
or IP address) using the built-in modules. The scan walks the configured phase
sequence and prints a per-module result table when it finishes.

To submit scans to a running daemon instead, use the HTTP API.`,
	Example: `  recondor scan example.com
  recondor scan example.com --modules dns,whois
  recondor scan 192.0.2.10 --timeout 5m --json`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanModules, "modules", "",
		"comma-separated module names (default: all built-in modules)")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0,
		"overall scan timeout (default: from configuration)")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false,
		"print the scan snapshot as JSON instead of a table")
}

func runScan(_ *cobra.Command, args []string) error {
	target := args[0]

	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if scanTimeout > 0 {
		cfg.Scanning.MaxScanTimeout = scanTimeout
	}

	registry := osint.Builtin()

	// One-shot scans run without persistence; the daemon owns the database.
	eng := engine.New(cfg, registry, nil)
	eng.Start()
	defer func() { _ = eng.Shutdown() }()

	// Ctrl-C stops the scan instead of killing the process outright.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scan, err := eng.StartScan(ctx, target, parseModuleList(scanModules))
	if err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Scan %s started against %s\n", scan.ID, target)
	}

	select {
	case <-scan.Done():
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "Interrupted, stopping scan...")
		_ = eng.StopScan(scan.ID)
		<-scan.Done()
	}

	snapshot := scan.Orchestrator.GetSnapshot()
	if scanJSON {
		return printScanJSON(scan, &snapshot)
	}

	printScanResult(scan, &snapshot)
	return nil
}

// parseModuleList splits a comma-separated module list, dropping empty
// entries. An empty list means all built-in modules.
func parseModuleList(s string) []string {
	if s == "" {
		return nil
	}
	var names []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func printScanJSON(scan *engine.Scan, snapshot *orchestrator.Snapshot) error {
	out := struct {
		State    string                `json:"state"`
		Snapshot orchestrator.Snapshot `json:"snapshot"`
	}{
		State:    scan.Machine.State().String(),
		Snapshot: *snapshot,
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func printScanResult(scan *engine.Scan, snapshot *orchestrator.Snapshot) {
	summary := scan.Orchestrator.GetSummary()

	fmt.Printf("Scan %s\n", scan.ID)
	fmt.Printf("Target:   %s\n", snapshot.Target)
	fmt.Printf("State:    %s\n", scan.Machine.State())
	fmt.Printf("Phase:    %s\n", snapshot.Phase)
	if snapshot.FailReason != "" {
		fmt.Printf("Reason:   %s\n", snapshot.FailReason)
	}
	fmt.Printf("Events:   %d\n", summary.TotalEvents)
	fmt.Printf("Errors:   %d\n", summary.TotalErrors)
	fmt.Printf("Duration: %.1fs\n\n", summary.ElapsedSeconds)

	displayModuleResultsTable(snapshot.Modules)
}

// displayModuleResultsTable displays per-module scan results in a table format.
func displayModuleResultsTable(modules []orchestrator.ModuleSnapshot) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Module", "Phase", "Status", "Events", "Error")

	for i := range modules {
		m := &modules[i]

		errMsg := m.LastError
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}

		_ = table.Append([]string{
			m.Name,
			string(m.Phase),
			string(m.Status),
			fmt.Sprintf("%d", m.EventsProduced),
			errMsg,
		})
	}

	_ = table.Render()
}
