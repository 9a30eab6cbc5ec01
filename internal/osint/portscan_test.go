package osint

import (
	"context"
	"errors"
	"testing"

	"github.com/Ullaakut/nmap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeNmapRun() *nmap.Run {
	return &nmap.Run{
		Hosts: []nmap.Host{
			{
				Addresses: []nmap.Address{{Addr: "93.184.216.34"}},
				Ports: []nmap.Port{
					{
						ID:       80,
						Protocol: "tcp",
						State:    nmap.State{State: "open"},
						Service:  nmap.Service{Name: "http", Product: "nginx", Version: "1.25"},
					},
					{
						ID:       443,
						Protocol: "tcp",
						State:    nmap.State{State: "open"},
					},
					{
						ID:       22,
						Protocol: "tcp",
						State:    nmap.State{State: "closed"},
					},
				},
			},
		},
	}
}

func TestPortScanConvertResults(t *testing.T) {
	m := NewPortScanModule(PortScanConfig{})

	events := m.convertResults("example.com", fakeNmapRun())

	// Two open ports, one with service detection.
	require.Len(t, events, 3)

	var openPorts, services []Event
	for _, e := range events {
		switch e.Type {
		case EventOpenPort:
			openPorts = append(openPorts, e)
		case EventService:
			services = append(services, e)
		}
	}

	require.Len(t, openPorts, 2)
	assert.Equal(t, "93.184.216.34:80", openPorts[0].Data)
	assert.Equal(t, 80, openPorts[0].Metadata["port"])
	assert.Equal(t, "tcp", openPorts[0].Metadata["protocol"])
	assert.Equal(t, "93.184.216.34:443", openPorts[1].Data)

	require.Len(t, services, 1)
	assert.Equal(t, "http", services[0].Data)
	assert.Equal(t, "nginx", services[0].Metadata["product"])
}

func TestPortScanConvertResultsEmpty(t *testing.T) {
	m := NewPortScanModule(PortScanConfig{})

	assert.Empty(t, m.convertResults("example.com", nil))
	assert.Empty(t, m.convertResults("example.com", &nmap.Run{}))
}

func TestPortScanRun(t *testing.T) {
	m := NewPortScanModule(PortScanConfig{})

	var gotTarget, gotPorts string
	m.runScan = func(_ context.Context, target, ports string) (*nmap.Run, error) {
		gotTarget = target
		gotPorts = ports
		return fakeNmapRun(), nil
	}

	events, err := m.Run(context.Background(), Target{Value: "example.com", Ports: "22,80,443"})
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, "example.com", gotTarget)
	assert.Equal(t, "22,80,443", gotPorts)
}

func TestPortScanRunDefaultsPorts(t *testing.T) {
	m := NewPortScanModule(PortScanConfig{Ports: "80,443"})

	var gotPorts string
	m.runScan = func(_ context.Context, _, ports string) (*nmap.Run, error) {
		gotPorts = ports
		return &nmap.Run{}, nil
	}

	_, err := m.Run(context.Background(), Target{Value: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, "80,443", gotPorts)
}

func TestPortScanRunErrors(t *testing.T) {
	m := NewPortScanModule(PortScanConfig{})

	t.Run("empty target", func(t *testing.T) {
		_, err := m.Run(context.Background(), Target{})
		assert.Error(t, err)
	})

	t.Run("scanner failure", func(t *testing.T) {
		m.runScan = func(context.Context, string, string) (*nmap.Run, error) {
			return nil, errors.New("nmap not found")
		}
		_, err := m.Run(context.Background(), Target{Value: "example.com"})
		assert.Error(t, err)
	})
}
