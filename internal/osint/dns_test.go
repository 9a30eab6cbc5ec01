package osint

import (
	"context"
	"net"
	"testing"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRR(t *testing.T, s string) mdns.RR {
	t.Helper()
	rr, err := mdns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func TestDNSParseAnswers(t *testing.T) {
	m := NewDNSModule(DNSConfig{})

	answers := []mdns.RR{
		mustRR(t, "example.com. 300 IN A 93.184.216.34"),
		mustRR(t, "example.com. 300 IN AAAA 2606:2800:220:1:248:1893:25c8:1946"),
		mustRR(t, "example.com. 3600 IN MX 10 mail.example.com."),
		mustRR(t, "example.com. 3600 IN NS a.iana-servers.net."),
		mustRR(t, `example.com. 60 IN TXT "v=spf1 -all"`),
		mustRR(t, "www.example.com. 60 IN CNAME example.com."),
	}

	events := m.parseAnswers("example.com", answers)
	require.Len(t, events, 6)

	byType := make(map[string][]Event)
	for _, e := range events {
		byType[e.Type] = append(byType[e.Type], e)
		assert.Equal(t, "example.com", e.Source)
		assert.Equal(t, "dns", e.Module)
		assert.Contains(t, e.Metadata, "ttl")
	}

	assert.Equal(t, "93.184.216.34", byType[EventIPAddress][0].Data)
	assert.Equal(t, "2606:2800:220:1:248:1893:25c8:1946", byType[EventIPv6Address][0].Data)
	assert.Equal(t, "mail.example.com", byType[EventMailserver][0].Data)
	assert.Equal(t, 10, byType[EventMailserver][0].Metadata["preference"])
	assert.Equal(t, "a.iana-servers.net", byType[EventNameserver][0].Data)
	assert.Len(t, byType[EventDNSRecord], 2) // TXT + CNAME
	assert.Equal(t, 300, byType[EventIPAddress][0].Metadata["ttl"])
}

func TestDNSParseAnswersSkipsUnhandled(t *testing.T) {
	m := NewDNSModule(DNSConfig{})

	answers := []mdns.RR{
		nil,
		mustRR(t, "example.com. 300 IN SOA ns.example.com. admin.example.com. 1 2 3 4 5"),
	}
	assert.Empty(t, m.parseAnswers("example.com", answers))
}

func TestDNSRunRejectsBadTargets(t *testing.T) {
	m := NewDNSModule(DNSConfig{Timeout: 100 * time.Millisecond})

	_, err := m.Run(context.Background(), Target{Value: "  "})
	assert.Error(t, err)

	// IP targets are a silent no-op for this module.
	events, err := m.Run(context.Background(), Target{Value: "192.0.2.1"})
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestDNSRunAgainstLocalServer(t *testing.T) {
	// Minimal DNS server answering every question with one A record.
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	server := &mdns.Server{
		PacketConn: pc,
		Handler: mdns.HandlerFunc(func(w mdns.ResponseWriter, req *mdns.Msg) {
			resp := new(mdns.Msg)
			resp.SetReply(req)
			if req.Question[0].Qtype == mdns.TypeA {
				resp.Answer = append(resp.Answer, &mdns.A{
					Hdr: mdns.RR_Header{
						Name:   req.Question[0].Name,
						Rrtype: mdns.TypeA,
						Class:  mdns.ClassINET,
						Ttl:    60,
					},
					A: net.ParseIP("192.0.2.10"),
				})
			}
			_ = w.WriteMsg(resp)
		}),
	}
	go func() { _ = server.ActivateAndServe() }()
	defer func() { _ = server.Shutdown() }()

	m := NewDNSModule(DNSConfig{
		Servers: []string{pc.LocalAddr().String()},
		Timeout: time.Second,
	})

	events, err := m.Run(context.Background(), Target{Value: "example.test"})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, EventIPAddress, events[0].Type)
	assert.Equal(t, "192.0.2.10", events[0].Data)
}

func TestDNSModuleDefaults(t *testing.T) {
	m := NewDNSModule(DNSConfig{})

	assert.Equal(t, "dns", m.Name())
	assert.NotEmpty(t, m.servers, "falls back to system or public resolvers")
	assert.Equal(t, defaultDNSTimeout, m.client.Timeout)
}
