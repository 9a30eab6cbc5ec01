package osint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebProbeRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "recondor/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Server", "nginx/1.25")
		w.Header().Set("X-Powered-By", "PHP/8.3")
		_, _ = w.Write([]byte("<html><head><title>\n  Example   Domain\n</title></head></html>"))
	}))
	defer server.Close()

	m := NewWebProbeModule(WebProbeConfig{Timeout: time.Second})
	events, err := m.Run(context.Background(), Target{Value: server.URL})
	require.NoError(t, err)

	var headers, titles []Event
	for _, e := range events {
		switch e.Type {
		case EventWebServer:
			headers = append(headers, e)
		case EventWebTitle:
			titles = append(titles, e)
		}
	}

	require.NotEmpty(t, headers)
	headerData := make([]string, 0, len(headers))
	for _, h := range headers {
		headerData = append(headerData, h.Data)
	}
	assert.Contains(t, headerData, "Server: nginx/1.25")
	assert.Contains(t, headerData, "X-Powered-By: PHP/8.3")

	require.Len(t, titles, 1)
	assert.Equal(t, "Example Domain", titles[0].Data, "title whitespace is collapsed")
}

func TestWebProbeRunNoServer(t *testing.T) {
	m := NewWebProbeModule(WebProbeConfig{Timeout: 200 * time.Millisecond})

	_, err := m.Run(context.Background(), Target{Value: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestWebProbeRunEmptyTarget(t *testing.T) {
	m := NewWebProbeModule(WebProbeConfig{})

	_, err := m.Run(context.Background(), Target{Value: " "})
	assert.Error(t, err)
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"simple", "<title>Hello</title>", "Hello"},
		{"attributes", `<TITLE class="x">Mixed Case</TITLE>`, "Mixed Case"},
		{"multiline", "<title>\n Two\n Lines \n</title>", "Two Lines"},
		{"missing", "<h1>No title</h1>", ""},
		{"empty", "<title></title>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractTitle([]byte(tt.body)))
		})
	}
}
