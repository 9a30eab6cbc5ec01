package osint

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"

	"github.com/anstrom/recondor/internal/errors"
	"github.com/anstrom/recondor/internal/logging"
	"github.com/anstrom/recondor/internal/orchestrator"
)

const (
	dnsModuleName     = "dns"
	defaultDNSTimeout = 5 * time.Second
)

// queried record types, in query order.
var dnsQueryTypes = []uint16{
	mdns.TypeA,
	mdns.TypeAAAA,
	mdns.TypeMX,
	mdns.TypeNS,
	mdns.TypeTXT,
}

// DNSConfig configures the dns module.
type DNSConfig struct {
	// Servers are resolver addresses (host:port). Empty uses the system
	// resolvers from /etc/resolv.conf.
	Servers []string
	// Timeout bounds one exchange.
	Timeout time.Duration
}

// DNSModule resolves A/AAAA/MX/NS/TXT records for the target domain.
type DNSModule struct {
	servers []string
	client  *mdns.Client
	logger  *logging.Logger
}

// NewDNSModule creates the dns module.
func NewDNSModule(cfg DNSConfig) *DNSModule {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	servers := cfg.Servers
	if len(servers) == 0 {
		servers = systemResolvers()
	}
	return &DNSModule{
		servers: servers,
		client: &mdns.Client{
			Net:          "udp",
			Timeout:      timeout,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		logger: logging.Default().WithModule(dnsModuleName),
	}
}

// Name implements Module.
func (m *DNSModule) Name() string { return dnsModuleName }

// Phase implements Module.
func (m *DNSModule) Phase() orchestrator.Phase { return orchestrator.PhaseDiscovery }

// Priority implements Module.
func (m *DNSModule) Priority() int { return 10 }

// DependsOn implements Module.
func (m *DNSModule) DependsOn() []string { return nil }

// Run implements Module.
func (m *DNSModule) Run(ctx context.Context, target Target) ([]Event, error) {
	domain := strings.TrimSpace(target.Value)
	if domain == "" {
		return nil, errors.NewModuleError(errors.CodeTargetInvalid, dnsModuleName, "empty target")
	}
	if net.ParseIP(domain) != nil {
		// IP targets have nothing to resolve here.
		return nil, nil
	}

	var events []Event
	var lastErr error
	for _, qtype := range dnsQueryTypes {
		select {
		case <-ctx.Done():
			return events, ctx.Err()
		default:
		}

		answers, err := m.query(ctx, domain, qtype)
		if err != nil {
			m.logger.Debug("DNS query failed",
				"domain", domain, "type", mdns.TypeToString[qtype], "error", err)
			lastErr = err
			continue
		}
		events = append(events, m.parseAnswers(domain, answers)...)
	}

	if len(events) == 0 && lastErr != nil {
		return nil, errors.WrapModuleError(errors.CodeModuleFailed, dnsModuleName,
			"all DNS queries failed", lastErr)
	}
	return events, nil
}

// query performs one exchange, rotating through the configured servers.
func (m *DNSModule) query(ctx context.Context, domain string, qtype uint16) ([]mdns.RR, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(domain), qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range m.servers {
		resp, _, err := m.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != mdns.RcodeSuccess {
			lastErr = fmt.Errorf("dns rcode %s", mdns.RcodeToString[resp.Rcode])
			continue
		}
		return resp.Answer, nil
	}
	return nil, lastErr
}

// parseAnswers converts resource records into events.
func (m *DNSModule) parseAnswers(domain string, answers []mdns.RR) []Event {
	trimDot := func(s string) string { return strings.TrimSuffix(s, ".") }

	events := make([]Event, 0, len(answers))
	for _, rr := range answers {
		if rr == nil {
			continue
		}

		var event Event
		switch rr := rr.(type) {
		case *mdns.A:
			event = NewEvent(EventIPAddress, rr.A.String(), domain, dnsModuleName)
		case *mdns.AAAA:
			event = NewEvent(EventIPv6Address, rr.AAAA.String(), domain, dnsModuleName)
		case *mdns.MX:
			event = NewEvent(EventMailserver, trimDot(rr.Mx), domain, dnsModuleName)
			event.Metadata = map[string]interface{}{"preference": int(rr.Preference)}
		case *mdns.NS:
			event = NewEvent(EventNameserver, trimDot(rr.Ns), domain, dnsModuleName)
		case *mdns.TXT:
			event = NewEvent(EventDNSRecord, strings.Join(rr.Txt, " "), domain, dnsModuleName)
			event.Metadata = map[string]interface{}{"record_type": "TXT"}
		case *mdns.CNAME:
			event = NewEvent(EventDNSRecord, trimDot(rr.Target), domain, dnsModuleName)
			event.Metadata = map[string]interface{}{"record_type": "CNAME"}
		default:
			continue
		}
		if event.Metadata == nil {
			event.Metadata = map[string]interface{}{}
		}
		event.Metadata["ttl"] = int(rr.Header().Ttl)
		events = append(events, event)
	}
	return events
}

// systemResolvers reads resolvers from /etc/resolv.conf with public fallbacks.
func systemResolvers() []string {
	cfg, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || cfg == nil || len(cfg.Servers) == 0 {
		return []string{"1.1.1.1:53", "8.8.8.8:53"}
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return servers
}
