package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/recondor/internal/config"
	"github.com/anstrom/recondor/internal/daemon"
)

const (
	// Daemon operation constants.
	daemonStopProgressStep = 5  // show progress every N seconds
	daemonStopTimeout      = 30 // seconds to wait before force kill
	statusLineLength       = 30 // characters for status separator line
)

var daemonPidFile string

// daemonCmd represents the daemon command.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run recondor as a background daemon",
	Long: `Run recondor as a long-lived daemon service that executes scheduled
scans, provides HTTP API endpoints, and persists findings to the database.
The daemon can be started, stopped, and monitored using subcommands.`,
	Example: `  recondor daemon start
  recondor daemon stop
  recondor daemon status
  recondor daemon restart`,
}

// daemonStartCmd represents the daemon start command.
var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the recondor daemon",
	Long: `Start the recondor daemon in the foreground. The daemon processes
scheduled scans and serves the HTTP API until it receives SIGTERM or SIGINT.
Use your init system or a process supervisor to run it in the background.`,
	Example: `  recondor daemon start
  recondor daemon start --pid-file /var/run/recondor.pid`,
	Run: runDaemonStart,
}

// daemonStopCmd represents the daemon stop command.
var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running recondor daemon",
	Long: `Stop the currently running recondor daemon. This sends SIGTERM for a
graceful shutdown and escalates to SIGKILL if the daemon does not exit.`,
	Example: `  recondor daemon stop
  recondor daemon stop --pid-file /var/run/recondor.pid`,
	Run: runDaemonStop,
}

// daemonStatusCmd represents the daemon status command.
var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the recondor daemon",
	Long: `Check whether the recondor daemon is currently running and display
information about its status.`,
	Example: `  recondor daemon status`,
	Run:     runDaemonStatus,
}

// daemonRestartCmd represents the daemon restart command.
var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the recondor daemon",
	Long: `Stop the currently running daemon (if any) and start a new instance.
This is equivalent to running 'daemon stop' followed by 'daemon start'.`,
	Example: `  recondor daemon restart`,
	Run:     runDaemonRestart,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonRestartCmd)

	daemonCmd.PersistentFlags().StringVar(&daemonPidFile, "pid-file", "",
		"path to PID file (default: from configuration)")
}

func runDaemonStart(_ *cobra.Command, _ []string) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if daemonPidFile != "" {
		cfg.Daemon.PIDFile = daemonPidFile
	}

	if isDaemonRunning(cfg.Daemon.PIDFile) {
		fmt.Fprintf(os.Stderr, "Daemon is already running (PID file: %s)\n", cfg.Daemon.PIDFile)
		fmt.Fprintf(os.Stderr, "Use 'recondor daemon stop' to stop it first, or 'daemon restart' to restart\n")
		os.Exit(1)
	}

	if verbose {
		fmt.Printf("Starting daemon with configuration:\n")
		fmt.Printf("  PID file: %s\n", cfg.Daemon.PIDFile)
		fmt.Printf("  API: %s (enabled: %t)\n", cfg.GetAPIAddress(), cfg.IsAPIEnabled())
	}

	d := daemon.New(cfg)

	fmt.Println("Starting recondor daemon...")
	// Start blocks until the daemon shuts down.
	if err := d.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
		os.Exit(1)
	}
}

func runDaemonStop(_ *cobra.Command, _ []string) {
	pidFile := resolvePIDFile()

	if !isDaemonRunning(pidFile) {
		fmt.Printf("Daemon is not running (no PID file found at %s)\n", pidFile)
		return
	}

	pid, err := readPIDFile(pidFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading PID file: %v\n", err)
		os.Exit(1)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding daemon process: %v\n", err)
		os.Exit(1)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "Error sending stop signal to daemon: %v\n", err)
		os.Exit(1)
	}

	// Wait for daemon to stop (up to configured timeout)
	fmt.Printf("Stopping daemon (PID %d)...\n", pid)
	for i := 0; i < daemonStopTimeout; i++ {
		if !isDaemonRunning(pidFile) {
			fmt.Println("Daemon stopped successfully")
			return
		}
		time.Sleep(1 * time.Second)
		if i%daemonStopProgressStep == (daemonStopProgressStep - 1) {
			fmt.Printf("Waiting for daemon to stop... (%d seconds)\n", i+1)
		}
	}

	// Still running after the timeout, force kill.
	fmt.Printf("Daemon did not stop gracefully, sending SIGKILL...\n")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		fmt.Fprintf(os.Stderr, "Error force-killing daemon: %v\n", err)
		os.Exit(1)
	}

	time.Sleep(2 * time.Second)
	if !isDaemonRunning(pidFile) {
		fmt.Println("Daemon force-stopped")
	} else {
		fmt.Fprintf(os.Stderr, "Failed to stop daemon\n")
		os.Exit(1)
	}
}

func runDaemonStatus(_ *cobra.Command, _ []string) {
	pidFile := resolvePIDFile()

	fmt.Printf("Recondor Daemon Status\n")
	fmt.Println(strings.Repeat("=", statusLineLength))

	if !isDaemonRunning(pidFile) {
		fmt.Printf("Status: Not running\n")
		fmt.Printf("PID file: %s (not found)\n", pidFile)
		return
	}

	pid, err := readPIDFile(pidFile)
	if err != nil {
		fmt.Printf("Status: Unknown (error reading PID file: %v)\n", err)
		return
	}

	fmt.Printf("Status: Running\n")
	fmt.Printf("PID: %d\n", pid)
	fmt.Printf("PID file: %s\n", pidFile)

	if info, err := os.Stat(pidFile); err == nil {
		fmt.Printf("Started: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Printf("Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	fmt.Printf("\nTo stop daemon: recondor daemon stop\n")
}

func runDaemonRestart(cmd *cobra.Command, args []string) {
	fmt.Println("Restarting recondor daemon...")

	if isDaemonRunning(resolvePIDFile()) {
		fmt.Println("Stopping existing daemon...")
		runDaemonStop(cmd, args)

		// Wait a moment for clean shutdown
		time.Sleep(1 * time.Second)
	}

	fmt.Println("Starting new daemon...")
	runDaemonStart(cmd, args)
}

// resolvePIDFile returns the PID file path from the --pid-file flag or the
// loaded configuration.
func resolvePIDFile() string {
	if daemonPidFile != "" {
		return daemonPidFile
	}
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return config.Default().Daemon.PIDFile
	}
	return cfg.Daemon.PIDFile
}

func isDaemonRunning(pidFile string) bool {
	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		return false
	}

	pid, err := readPIDFile(pidFile)
	if err != nil {
		return false
	}

	// Check if process exists
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process is alive
	return process.Signal(syscall.Signal(0)) == nil
}

func readPIDFile(pidFile string) (int, error) {
	// #nosec G304 - pidFile is a controlled path from flags or configuration
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %v", err)
	}

	return pid, nil
}

func formatDuration(d time.Duration) string {
	const hoursPerDay = 24
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	} else if d < hoursPerDay*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	days := int(d.Hours() / hoursPerDay)
	return fmt.Sprintf("%dd", days)
}
