package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	scheduleName    string
	scheduleModules string
)

// scheduleEntry mirrors the schedule representation served by the daemon API.
type scheduleEntry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CronExpr   string    `json:"cron_expression"`
	Target     string    `json:"target"`
	Modules    []string  `json:"modules,omitempty"`
	Enabled    bool      `json:"enabled"`
	LastRun    time.Time `json:"last_run,omitempty"`
	NextRun    time.Time `json:"next_run,omitempty"`
	LastScanID string    `json:"last_scan_id,omitempty"`
	RunCount   int64     `json:"run_count"`
}

// scheduleCmd manages recurring scans on a running daemon.
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring scan schedules",
	Long: `Manage recurring scan schedules on a running recondor daemon.
Schedules use standard five-field cron expressions and trigger scans against
their target whenever the expression fires.`,
	Example: `  recondor schedule list
  recondor schedule add example.com "0 2 * * *" --name nightly
  recondor schedule run <id>
  recondor schedule remove <id>`,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured schedules",
	RunE: func(_ *cobra.Command, _ []string) error {
		return WithAPIClient("list schedules", listSchedules)
	},
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add [target] [cron-expression]",
	Short: "Add a recurring scan schedule",
	Long: `Add a recurring scan schedule. The cron expression uses the standard
five-field format (minute hour day-of-month month day-of-week).`,
	Example: `  recondor schedule add example.com "0 2 * * *" --name nightly
  recondor schedule add 192.0.2.10 "*/30 * * * *" --modules dns,portscan`,
	Args: cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return WithAPIClient("add schedule", func(client *APIClient) error {
			return addSchedule(client, args[0], args[1])
		})
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return WithAPIClient("remove schedule", func(client *APIClient) error {
			if err := client.Delete("/schedules/" + args[0]); err != nil {
				return err
			}
			fmt.Printf("Schedule %s removed\n", args[0])
			return nil
		})
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable [id]",
	Short: "Enable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return WithAPIClient("enable schedule", func(client *APIClient) error {
			return toggleSchedule(client, args[0], true)
		})
	},
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable [id]",
	Short: "Disable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return WithAPIClient("disable schedule", func(client *APIClient) error {
			return toggleSchedule(client, args[0], false)
		})
	},
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run [id]",
	Short: "Trigger a schedule immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return WithAPIClient("run schedule", func(client *APIClient) error {
			var resp map[string]interface{}
			if err := client.Post("/schedules/"+args[0]+"/run", nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Schedule %s triggered\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(scheduleEnableCmd)
	scheduleCmd.AddCommand(scheduleDisableCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)

	scheduleAddCmd.Flags().StringVar(&scheduleName, "name", "",
		"schedule name (default: the target)")
	scheduleAddCmd.Flags().StringVar(&scheduleModules, "modules", "",
		"comma-separated module names (default: all built-in modules)")
}

func listSchedules(client *APIClient) error {
	var resp struct {
		Schedules []scheduleEntry `json:"schedules"`
		Total     int             `json:"total"`
	}
	if err := client.Get("/schedules", &resp); err != nil {
		return err
	}

	if resp.Total == 0 {
		fmt.Println("No schedules configured")
		return nil
	}

	displaySchedulesTable(resp.Schedules)
	return nil
}

func addSchedule(client *APIClient, target, cronExpr string) error {
	name := scheduleName
	if name == "" {
		name = target
	}

	payload := map[string]interface{}{
		"name":            name,
		"cron_expression": cronExpr,
		"target":          target,
	}
	if modules := parseModuleList(scheduleModules); len(modules) > 0 {
		payload["modules"] = modules
	}

	var created scheduleEntry
	if err := client.Post("/schedules", payload, &created); err != nil {
		return err
	}

	fmt.Printf("Schedule %s created\n", created.ID)
	if !created.NextRun.IsZero() {
		fmt.Printf("Next run: %s\n", created.NextRun.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func toggleSchedule(client *APIClient, id string, enable bool) error {
	endpoint := "/schedules/" + id + "/disable"
	if enable {
		endpoint = "/schedules/" + id + "/enable"
	}

	var updated scheduleEntry
	if err := client.Post(endpoint, nil, &updated); err != nil {
		return err
	}

	state := "disabled"
	if updated.Enabled {
		state = "enabled"
	}
	fmt.Printf("Schedule %s %s\n", updated.ID, state)
	return nil
}

// displaySchedulesTable displays schedules in a table format.
func displaySchedulesTable(schedules []scheduleEntry) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Cron", "Target", "Status", "Next Run", "Runs")

	for i := range schedules {
		sched := &schedules[i]

		status := "Enabled"
		if !sched.Enabled {
			status = "Disabled"
		}

		nextRun := "-"
		if sched.Enabled && !sched.NextRun.IsZero() {
			nextRun = sched.NextRun.Format("2006-01-02 15:04")
		}

		// Format ID - truncate if longer than 8 characters
		displayID := sched.ID
		if len(sched.ID) > 8 {
			displayID = sched.ID[:8] + "..."
		}

		_ = table.Append([]string{
			displayID,
			sched.Name,
			sched.CronExpr,
			sched.Target,
			status,
			nextRun,
			strconv.FormatInt(sched.RunCount, 10),
		})
	}

	_ = table.Render()
}
