package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/recondor/internal/orchestrator"
)

func discardSlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialFeed(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(ts.Router())
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestScanFeedStreamsUpdates(t *testing.T) {
	ts := newTestServer(t, &fakeModule{name: "dns", phase: orchestrator.PhaseDiscovery})
	conn := dialFeed(t, ts)

	// Give the hub time to register the client before the scan starts.
	require.Eventually(t, func() bool {
		return ts.feed.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	id := ts.startScan(t, "example.com")

	// Collect messages until the scan finishes or we time out.
	types := make(map[string]bool)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !types["scan_finished"] {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg FeedMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		types[msg.Type] = true

		data, ok := msg.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, id, data["scan_id"])
	}

	assert.True(t, types["state_change"], "expected lifecycle updates, got %v", types)
	assert.True(t, types["scan_finished"], "expected completion update, got %v", types)
}

func TestScanFeedClientCount(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, 0, ts.feed.ClientCount())

	conn := dialFeed(t, ts)
	require.Eventually(t, func() bool {
		return ts.feed.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	_ = conn.Close()
	require.Eventually(t, func() bool {
		return ts.feed.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScanFeedShutdownIdempotent(t *testing.T) {
	feed := NewScanFeed(discardSlog())
	feed.Shutdown()
	feed.Shutdown()
}
