package osint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/recondor/internal/errors"
	"github.com/anstrom/recondor/internal/logging"
	"github.com/anstrom/recondor/internal/orchestrator"
)

const (
	portscanModuleName  = "portscan"
	defaultPortList     = "21,22,25,53,80,110,143,443,465,587,993,995,8080,8443"
	defaultScanDeadline = 5 * time.Minute
)

// PortScanConfig configures the portscan module.
type PortScanConfig struct {
	// Ports is the nmap port specification. Empty uses a common-port list.
	Ports string
	// ServiceDetection enables version probing on open ports.
	ServiceDetection bool
	// Deadline bounds the whole nmap run.
	Deadline time.Duration
}

// PortScanModule finds open TCP ports on the target using nmap.
type PortScanModule struct {
	cfg    PortScanConfig
	logger *logging.Logger

	// runScan is swapped in tests to avoid invoking the nmap binary.
	runScan func(ctx context.Context, target, ports string) (*nmap.Run, error)
}

// NewPortScanModule creates the portscan module.
func NewPortScanModule(cfg PortScanConfig) *PortScanModule {
	if cfg.Ports == "" {
		cfg.Ports = defaultPortList
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultScanDeadline
	}
	m := &PortScanModule{
		cfg:    cfg,
		logger: logging.Default().WithModule(portscanModuleName),
	}
	m.runScan = m.nmapRun
	return m
}

// Name implements Module.
func (m *PortScanModule) Name() string { return portscanModuleName }

// Phase implements Module.
func (m *PortScanModule) Phase() orchestrator.Phase { return orchestrator.PhaseEnumeration }

// Priority implements Module.
func (m *PortScanModule) Priority() int { return 10 }

// DependsOn implements Module.
func (m *PortScanModule) DependsOn() []string { return []string{dnsModuleName} }

// Run implements Module.
func (m *PortScanModule) Run(ctx context.Context, target Target) ([]Event, error) {
	host := strings.TrimSpace(target.Value)
	if host == "" {
		return nil, errors.NewModuleError(errors.CodeTargetInvalid, portscanModuleName, "empty target")
	}
	ports := target.Ports
	if ports == "" {
		ports = m.cfg.Ports
	}

	result, err := m.runScan(ctx, host, ports)
	if err != nil {
		return nil, errors.WrapModuleError(errors.CodeModuleFailed, portscanModuleName,
			"nmap scan failed", err)
	}

	return m.convertResults(host, result), nil
}

// nmapRun builds and executes the nmap scanner.
func (m *PortScanModule) nmapRun(ctx context.Context, target, ports string) (*nmap.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Deadline)
	defer cancel()

	options := []nmap.Option{
		nmap.WithTargets(target),
		nmap.WithPorts(ports),
		nmap.WithConnectScan(),
		nmap.WithSkipHostDiscovery(),
	}
	if m.cfg.ServiceDetection {
		options = append(options, nmap.WithServiceInfo())
	}

	scanner, err := nmap.NewScanner(ctx, options...)
	if err != nil {
		return nil, err
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, err
	}
	if warnings != nil && len(*warnings) > 0 {
		m.logger.Debug("Scan completed with warnings", "warnings", *warnings)
	}
	return result, nil
}

// convertResults turns an nmap run into open-port and service events.
func (m *PortScanModule) convertResults(target string, result *nmap.Run) []Event {
	if result == nil {
		return nil
	}

	var events []Event
	for i := range result.Hosts {
		host := &result.Hosts[i]
		addr := target
		if len(host.Addresses) > 0 {
			addr = host.Addresses[0].Addr
		}

		for j := range host.Ports {
			port := &host.Ports[j]
			if port.State.State != "open" {
				continue
			}

			event := NewEvent(EventOpenPort,
				fmt.Sprintf("%s:%d", addr, port.ID), target, portscanModuleName)
			event.Metadata = map[string]interface{}{
				"port":     int(port.ID),
				"protocol": port.Protocol,
			}
			events = append(events, event)

			if port.Service.Name != "" {
				service := NewEvent(EventService, port.Service.Name, target, portscanModuleName)
				service.Metadata = map[string]interface{}{
					"port":    int(port.ID),
					"product": port.Service.Product,
					"version": port.Service.Version,
				}
				events = append(events, service)
			}
		}
	}
	return events
}
