package sink

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"dualpath/topology"
)

// Options carries what any registered sink may need to be built.
type Options struct {
	Ofctl  OfctlConfig
	Etcd   EtcdConfig
	Stream StreamConfig
	Out    io.Writer

	// Topology is set for sinks that model the network themselves.
	Topology *topology.Topology
}

// Factory builds a sink from Options.
type Factory func(opts Options) (RuleSink, error)

// Registry manages the available sink kinds by name.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

var globalRegistry = NewRegistry()

const (
	KindPrint  = "print"
	KindRecord = "record"
	KindOfctl  = "ofctl"
	KindEtcd   = "etcd"
	KindStream = "stream"
)

func init() {
	builtin := map[string]Factory{
		KindPrint: func(opts Options) (RuleSink, error) {
			out := opts.Out
			if out == nil {
				out = os.Stdout
			}
			return NewPrinter(out, NewOfctl(opts.Ofctl, nil).Bridge), nil
		},
		KindRecord: func(Options) (RuleSink, error) {
			return NewRecorder(), nil
		},
		KindOfctl: func(opts Options) (RuleSink, error) {
			return NewOfctl(opts.Ofctl, ExecRunner{}), nil
		},
		KindEtcd: func(opts Options) (RuleSink, error) {
			return NewEtcd(opts.Etcd)
		},
		KindStream: func(opts Options) (RuleSink, error) {
			return DialStream(opts.Stream)
		},
	}
	for name, f := range builtin {
		if err := RegisterGlobal(name, f); err != nil {
			log.Warnf("Failed to register %s sink: %v", name, err)
		}
	}
}

// Register registers a new sink kind with the given name
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("sink '%s' is already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Open builds a sink of the named kind.
func (r *Registry) Open(name string, opts Options) (RuleSink, error) {
	r.mu.RLock()
	f, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("sink '%s' not found in registry, available: %v", name, r.List())
	}
	return f(opts)
}

// List returns all registered sink names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterGlobal registers a sink kind in the global registry
func RegisterGlobal(name string, f Factory) error {
	return globalRegistry.Register(name, f)
}

// Open builds a sink from the global registry.
func Open(name string, opts Options) (RuleSink, error) {
	return globalRegistry.Open(name, opts)
}

// ListGlobal returns all sink kinds in the global registry
func ListGlobal() []string {
	return globalRegistry.List()
}
