package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// remoteScan mirrors the scan representation served by the daemon API.
type remoteScan struct {
	ID      string `json:"id"`
	Target  string `json:"target"`
	State   string `json:"state"`
	Summary struct {
		Phase            string  `json:"phase"`
		ModulesTotal     int     `json:"modules_total"`
		ModulesCompleted int     `json:"modules_completed"`
		ModulesFailed    int     `json:"modules_failed"`
		TotalEvents      int64   `json:"total_events"`
		ElapsedSeconds   float64 `json:"elapsed_seconds"`
	} `json:"summary"`
}

// scansCmd manages scans on a running daemon.
var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "Manage scans on a running daemon",
	Long: `List and control scans tracked by a running recondor daemon. Use
'recondor scan' to run a one-shot scan without a daemon.`,
	Example: `  recondor scans list
  recondor scans submit example.com
  recondor scans stop <id>`,
}

var scansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scans tracked by the daemon",
	RunE: func(_ *cobra.Command, _ []string) error {
		return WithAPIClient("list scans", listRemoteScans)
	},
}

var scansSubmitCmd = &cobra.Command{
	Use:   "submit [target]",
	Short: "Submit a scan to the daemon",
	Example: `  recondor scans submit example.com
  recondor scans submit example.com --modules dns,whois`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return WithAPIClient("submit scan", func(client *APIClient) error {
			return submitRemoteScan(client, args[0])
		})
	},
}

var scansStopCmd = &cobra.Command{
	Use:   "stop [id]",
	Short: "Stop a running scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return WithAPIClient("stop scan", func(client *APIClient) error {
			var resp remoteScan
			if err := client.Post("/scans/"+args[0]+"/stop", nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Scan %s stopping\n", args[0])
			return nil
		})
	},
}

// statusCmd shows the status of a running daemon via its API.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running daemon",
	RunE: func(_ *cobra.Command, _ []string) error {
		return WithAPIClient("daemon status", showDaemonStatus)
	},
}

func init() {
	rootCmd.AddCommand(scansCmd)
	rootCmd.AddCommand(statusCmd)
	scansCmd.AddCommand(scansListCmd)
	scansCmd.AddCommand(scansSubmitCmd)
	scansCmd.AddCommand(scansStopCmd)

	scansSubmitCmd.Flags().StringVar(&scanModules, "modules", "",
		"comma-separated module names (default: all built-in modules)")
}

func listRemoteScans(client *APIClient) error {
	var resp struct {
		Scans []remoteScan `json:"scans"`
		Total int          `json:"total"`
	}
	if err := client.Get("/scans", &resp); err != nil {
		return err
	}

	if resp.Total == 0 {
		fmt.Println("No scans tracked by the daemon")
		return nil
	}

	displayScansTable(resp.Scans)
	return nil
}

func submitRemoteScan(client *APIClient, target string) error {
	payload := map[string]interface{}{"target": target}
	if modules := parseModuleList(scanModules); len(modules) > 0 {
		payload["modules"] = modules
	}

	var created remoteScan
	if err := client.Post("/scans", payload, &created); err != nil {
		return err
	}

	fmt.Printf("Scan %s submitted against %s\n", created.ID, created.Target)
	fmt.Printf("Watch it with: recondor scans list\n")
	return nil
}

func showDaemonStatus(client *APIClient) error {
	var resp struct {
		Service     string   `json:"service"`
		Version     string   `json:"version"`
		Uptime      string   `json:"uptime"`
		ActiveScans int      `json:"active_scans"`
		WSClients   int      `json:"ws_clients"`
		Modules     []string `json:"modules"`
		Schedules   int      `json:"schedules"`
	}
	if err := client.Get("/status", &resp); err != nil {
		return err
	}

	fmt.Printf("Service:      %s %s\n", resp.Service, resp.Version)
	fmt.Printf("Uptime:       %s\n", resp.Uptime)
	fmt.Printf("Active scans: %d\n", resp.ActiveScans)
	fmt.Printf("Schedules:    %d\n", resp.Schedules)
	fmt.Printf("WS clients:   %d\n", resp.WSClients)
	if len(resp.Modules) > 0 {
		fmt.Printf("Modules:      %v\n", resp.Modules)
	}
	return nil
}

// displayScansTable displays daemon-tracked scans in a table format.
func displayScansTable(scans []remoteScan) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Target", "State", "Phase", "Modules", "Events", "Elapsed")

	for i := range scans {
		scan := &scans[i]

		// Format ID - truncate if longer than 8 characters
		displayID := scan.ID
		if len(scan.ID) > 8 {
			displayID = scan.ID[:8] + "..."
		}

		modules := fmt.Sprintf("%d/%d", scan.Summary.ModulesCompleted, scan.Summary.ModulesTotal)
		if scan.Summary.ModulesFailed > 0 {
			modules += fmt.Sprintf(" (%d failed)", scan.Summary.ModulesFailed)
		}

		_ = table.Append([]string{
			displayID,
			scan.Target,
			scan.State,
			scan.Summary.Phase,
			modules,
			strconv.FormatInt(scan.Summary.TotalEvents, 10),
			fmt.Sprintf("%.1fs", scan.Summary.ElapsedSeconds),
		})
	}

	_ = table.Render()
}
