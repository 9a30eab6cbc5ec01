package osint

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/anstrom/recondor/internal/errors"
	"github.com/anstrom/recondor/internal/logging"
	"github.com/anstrom/recondor/internal/orchestrator"
)

const (
	whoisModuleName     = "whois"
	defaultWhoisServer  = "whois.iana.org:43"
	defaultWhoisTimeout = 10 * time.Second
	maxWhoisResponse    = 1 << 20 // 1MB
	maxReferralHops     = 3
)

// WhoisConfig configures the whois module.
type WhoisConfig struct {
	// Server is the initial WHOIS server (host:port). Empty uses IANA.
	Server string
	// Timeout bounds one WHOIS exchange.
	Timeout time.Duration
}

// WhoisModule fetches WHOIS records over TCP port 43, following registry
// referrals down to the registrar's server.
type WhoisModule struct {
	server  string
	timeout time.Duration
	dialer  func(ctx context.Context, addr string) (net.Conn, error)
	logger  *logging.Logger
}

// NewWhoisModule creates the whois module.
func NewWhoisModule(cfg WhoisConfig) *WhoisModule {
	server := cfg.Server
	if server == "" {
		server = defaultWhoisServer
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWhoisTimeout
	}
	m := &WhoisModule{
		server:  server,
		timeout: timeout,
		logger:  logging.Default().WithModule(whoisModuleName),
	}
	m.dialer = func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	return m
}

// Name implements Module.
func (m *WhoisModule) Name() string { return whoisModuleName }

// Phase implements Module.
func (m *WhoisModule) Phase() orchestrator.Phase { return orchestrator.PhaseDiscovery }

// Priority implements Module.
func (m *WhoisModule) Priority() int { return 5 }

// DependsOn implements Module.
func (m *WhoisModule) DependsOn() []string { return nil }

// Run implements Module.
func (m *WhoisModule) Run(ctx context.Context, target Target) ([]Event, error) {
	domain := strings.TrimSpace(strings.ToLower(target.Value))
	if domain == "" {
		return nil, errors.NewModuleError(errors.CodeTargetInvalid, whoisModuleName, "empty target")
	}

	server := m.server
	var record, answeredBy string
	for hop := 0; hop < maxReferralHops; hop++ {
		response, err := m.exchange(ctx, server, domain)
		if err != nil {
			if record != "" {
				// Keep what the previous hop returned.
				break
			}
			return nil, errors.WrapModuleError(errors.CodeModuleFailed, whoisModuleName,
				fmt.Sprintf("whois query against %s failed", server), err)
		}
		record = response
		answeredBy = server

		referral := parseReferral(response)
		if referral == "" || referral == server {
			break
		}
		m.logger.Debug("Following WHOIS referral", "from", server, "to", referral)
		server = referral
	}

	if strings.TrimSpace(record) == "" {
		return nil, nil
	}

	event := NewEvent(EventWhoisRecord, record, domain, whoisModuleName)
	event.Metadata = map[string]interface{}{"server": answeredBy}
	return []Event{event}, nil
}

// exchange sends one WHOIS query and reads the full response.
func (m *WhoisModule) exchange(ctx context.Context, server, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.dialer(ctx, server)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = conn.Close()
	}()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := fmt.Fprintf(conn, "%s\r\n", query); err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(conn, maxWhoisResponse))
	if err != nil && len(data) == 0 {
		return "", err
	}
	return string(data), nil
}

// parseReferral extracts a referral server from a WHOIS response. Registries
// disagree on the field name, so several spellings are accepted.
func parseReferral(response string) string {
	scanner := bufio.NewScanner(strings.NewReader(response))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lower := strings.ToLower(line)

		var value string
		switch {
		case strings.HasPrefix(lower, "refer:"):
			value = strings.TrimSpace(line[len("refer:"):])
		case strings.HasPrefix(lower, "whois server:"):
			value = strings.TrimSpace(line[len("whois server:"):])
		case strings.HasPrefix(lower, "registrar whois server:"):
			value = strings.TrimSpace(line[len("registrar whois server:"):])
		default:
			continue
		}

		if value == "" {
			continue
		}
		value = strings.TrimPrefix(value, "whois://")
		if !strings.Contains(value, ":") {
			value = net.JoinHostPort(value, "43")
		}
		return value
	}
	return ""
}
