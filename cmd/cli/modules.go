package cli

import (
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/recondor/internal/osint"
)

// modulesCmd lists the built-in reconnaissance modules.
var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List available reconnaissance modules",
	Long: `List the built-in reconnaissance modules, the scan phase each runs
in, its scheduling priority, and any modules it depends on.`,
	Example: `  recondor modules`,
	Run:     runModules,
}

func init() {
	rootCmd.AddCommand(modulesCmd)
}

func runModules(_ *cobra.Command, _ []string) {
	registry := osint.Builtin()

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "Phase", "Priority", "Depends On")

	for _, m := range registry.All() {
		deps := "-"
		if len(m.DependsOn()) > 0 {
			deps = strings.Join(m.DependsOn(), ", ")
		}

		_ = table.Append([]string{
			m.Name(),
			string(m.Phase()),
			strconv.Itoa(m.Priority()),
			deps,
		})
	}

	_ = table.Render()
}
