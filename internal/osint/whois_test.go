package osint

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// whoisServer runs a one-shot WHOIS responder on a local port.
func whoisServer(t *testing.T, response string) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer func() { _ = c.Close() }()
				_, _ = bufio.NewReader(c).ReadString('\n')
				_, _ = c.Write([]byte(response))
			}(conn)
		}
	}()
	return listener.Addr().String()
}

func TestParseReferral(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "iana refer field",
			response: "refer:        whois.verisign-grs.com\n\ndomain: COM\n",
			want:     "whois.verisign-grs.com:43",
		},
		{
			name:     "registrar whois server field",
			response: "   Registrar WHOIS Server: whois.markmonitor.com\n",
			want:     "whois.markmonitor.com:43",
		},
		{
			name:     "whois scheme prefix stripped",
			response: "Whois Server: whois://whois.example-registrar.net\n",
			want:     "whois.example-registrar.net:43",
		},
		{
			name:     "explicit port kept",
			response: "refer: whois.example.net:4343\n",
			want:     "whois.example.net:4343",
		},
		{
			name:     "no referral",
			response: "Domain Name: example.com\nRegistry Expiry Date: 2031-08-13\n",
			want:     "",
		},
		{
			name:     "empty referral value ignored",
			response: "refer:\nDomain Name: example.com\n",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseReferral(tt.response))
		})
	}
}

func TestWhoisRun(t *testing.T) {
	addr := whoisServer(t, "Domain Name: example.com\nRegistrar: Example Registrar\n")

	m := NewWhoisModule(WhoisConfig{Server: addr, Timeout: time.Second})
	events, err := m.Run(context.Background(), Target{Value: "EXAMPLE.com"})

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventWhoisRecord, events[0].Type)
	assert.Contains(t, events[0].Data, "Example Registrar")
	assert.Equal(t, "example.com", events[0].Source)
	assert.Equal(t, addr, events[0].Metadata["server"])
}

func TestWhoisRunFollowsReferral(t *testing.T) {
	registrar := whoisServer(t, "Domain Name: example.com\nRegistrant: Someone\n")
	registry := whoisServer(t, "refer: "+registrar+"\n")

	m := NewWhoisModule(WhoisConfig{Server: registry, Timeout: time.Second})
	events, err := m.Run(context.Background(), Target{Value: "example.com"})

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Data, "Registrant: Someone")
	assert.Equal(t, registrar, events[0].Metadata["server"])
}

func TestWhoisRunKeepsRecordWhenReferralFails(t *testing.T) {
	registry := whoisServer(t, "Domain Name: example.com\nrefer: 127.0.0.1:1\n")

	m := NewWhoisModule(WhoisConfig{Server: registry, Timeout: 500 * time.Millisecond})
	events, err := m.Run(context.Background(), Target{Value: "example.com"})

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Data, "Domain Name: example.com")
	assert.Equal(t, registry, events[0].Metadata["server"], "reports the server that answered")
}

func TestWhoisRunErrors(t *testing.T) {
	t.Run("empty target", func(t *testing.T) {
		m := NewWhoisModule(WhoisConfig{})
		_, err := m.Run(context.Background(), Target{Value: ""})
		assert.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		m := NewWhoisModule(WhoisConfig{Server: "127.0.0.1:1", Timeout: 200 * time.Millisecond})
		_, err := m.Run(context.Background(), Target{Value: "example.com"})
		assert.Error(t, err)
	})
}
