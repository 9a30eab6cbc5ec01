// Package osint defines the reconnaissance module SDK: the Module interface
// the engine schedules, the Event findings modules produce, and a registry of
// built-in modules.
package osint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/anstrom/recondor/internal/orchestrator"
)

// Event type names produced by the built-in modules.
const (
	EventIPAddress   = "IP_ADDRESS"
	EventIPv6Address = "IPV6_ADDRESS"
	EventDNSRecord   = "DNS_RECORD"
	EventNameserver  = "NAMESERVER"
	EventMailserver  = "MAILSERVER"
	EventWhoisRecord = "WHOIS_RECORD"
	EventOpenPort    = "TCP_PORT_OPEN"
	EventService     = "SERVICE_BANNER"
	EventWebServer   = "WEBSERVER_HEADER"
	EventWebTitle    = "WEBPAGE_TITLE"
)

// Target is what a scan is pointed at, normally a domain name or IP address.
type Target struct {
	Value string
	Ports string
}

// Event is one finding produced by a module run.
type Event struct {
	Type       string
	Data       string
	Source     string
	Module     string
	Metadata   map[string]interface{}
	OccurredAt time.Time
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType, data, source, module string) Event {
	return Event{
		Type:       eventType,
		Data:       data,
		Source:     source,
		Module:     module,
		OccurredAt: time.Now().UTC(),
	}
}

// Module is one reconnaissance capability. Modules are stateless between
// runs; everything a run needs arrives through the context and target.
type Module interface {
	// Name returns the unique module name.
	Name() string
	// Phase returns the scheduling phase this module belongs to.
	Phase() orchestrator.Phase
	// Priority returns the scheduling priority within the phase.
	Priority() int
	// DependsOn returns names of modules that must complete first.
	DependsOn() []string
	// Run executes the module against the target.
	Run(ctx context.Context, target Target) ([]Event, error)
}

// Registry holds the available modules by name.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module, replacing any module with the same name.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name()] = m
}

// Get returns the named module, or nil when unknown.
func (r *Registry) Get(name string) Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modules[name]
}

// Names returns all registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered modules sorted by name.
func (r *Registry) All() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	modules := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		modules = append(modules, m)
	}
	sort.Slice(modules, func(i, j int) bool {
		return modules[i].Name() < modules[j].Name()
	})
	return modules
}

// Builtin returns a registry populated with the built-in modules.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(NewDNSModule(DNSConfig{}))
	r.Register(NewWhoisModule(WhoisConfig{}))
	r.Register(NewPortScanModule(PortScanConfig{}))
	r.Register(NewWebProbeModule(WebProbeConfig{}))
	return r
}
