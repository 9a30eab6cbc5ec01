package osint

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/anstrom/recondor/internal/errors"
	"github.com/anstrom/recondor/internal/logging"
	"github.com/anstrom/recondor/internal/orchestrator"
)

const (
	webprobeModuleName     = "webprobe"
	defaultWebProbeTimeout = 10 * time.Second
	maxWebProbeBody        = 256 << 10 // 256KB, enough to find a title
)

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// captured response headers.
var interestingHeaders = []string{"Server", "X-Powered-By", "Content-Type"}

// WebProbeConfig configures the webprobe module.
type WebProbeConfig struct {
	// Schemes to probe, in order. Empty probes https then http.
	Schemes []string
	// Timeout bounds one HTTP request.
	Timeout time.Duration
	// UserAgent overrides the request User-Agent.
	UserAgent string
}

// WebProbeModule fetches the target's web front page and reports server
// headers and the page title.
type WebProbeModule struct {
	schemes   []string
	userAgent string
	client    *http.Client
	logger    *logging.Logger
}

// NewWebProbeModule creates the webprobe module.
func NewWebProbeModule(cfg WebProbeConfig) *WebProbeModule {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebProbeTimeout
	}
	schemes := cfg.Schemes
	if len(schemes) == 0 {
		schemes = []string{"https", "http"}
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "recondor/1.0"
	}
	return &WebProbeModule{
		schemes:   schemes,
		userAgent: userAgent,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logging.Default().WithModule(webprobeModuleName),
	}
}

// Name implements Module.
func (m *WebProbeModule) Name() string { return webprobeModuleName }

// Phase implements Module.
func (m *WebProbeModule) Phase() orchestrator.Phase { return orchestrator.PhaseEnumeration }

// Priority implements Module.
func (m *WebProbeModule) Priority() int { return 5 }

// DependsOn implements Module.
func (m *WebProbeModule) DependsOn() []string { return []string{dnsModuleName} }

// Run implements Module.
func (m *WebProbeModule) Run(ctx context.Context, target Target) ([]Event, error) {
	host := strings.TrimSpace(target.Value)
	if host == "" {
		return nil, errors.NewModuleError(errors.CodeTargetInvalid, webprobeModuleName, "empty target")
	}

	var lastErr error
	for _, scheme := range m.schemes {
		url := host
		if !strings.Contains(url, "://") {
			url = fmt.Sprintf("%s://%s/", scheme, host)
		}

		events, err := m.probe(ctx, url, host)
		if err != nil {
			m.logger.Debug("Web probe failed", "url", url, "error", err)
			lastErr = err
			continue
		}
		return events, nil
	}
	return nil, errors.WrapModuleError(errors.CodeModuleFailed, webprobeModuleName,
		"no web server responded", lastErr)
}

// probe fetches one URL and extracts headers and title.
func (m *WebProbeModule) probe(ctx context.Context, url, source string) ([]Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", m.userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var events []Event
	for _, name := range interestingHeaders {
		if value := resp.Header.Get(name); value != "" {
			event := NewEvent(EventWebServer, fmt.Sprintf("%s: %s", name, value), source, webprobeModuleName)
			event.Metadata = map[string]interface{}{
				"url":    url,
				"status": resp.StatusCode,
			}
			events = append(events, event)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebProbeBody))
	if err != nil {
		return events, nil
	}
	if title := extractTitle(body); title != "" {
		event := NewEvent(EventWebTitle, title, source, webprobeModuleName)
		event.Metadata = map[string]interface{}{"url": url}
		events = append(events, event)
	}
	return events, nil
}

// extractTitle pulls the first <title> out of an HTML body.
func extractTitle(body []byte) string {
	match := titleRe.FindSubmatch(body)
	if match == nil {
		return ""
	}
	title := strings.TrimSpace(string(match[1]))
	title = strings.Join(strings.Fields(title), " ")
	return title
}
