package sink

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"dualpath/flowrule"
	"dualpath/topology"
)

// Runner runs an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type OfctlConfig struct {
	Binary    string            `toml:"binary"`
	Sudo      bool              `toml:"sudo"`
	Protocols string            `toml:"protocols"` // passed as -O when set, e.g. "OpenFlow13"
	Bridges   map[string]string `toml:"bridges"`   // switch id -> bridge name
	Timeout   time.Duration     `toml:"timeout"`
}

func DefaultOfctlConfig() OfctlConfig {
	return OfctlConfig{
		Binary:  "ovs-ofctl",
		Sudo:    true,
		Timeout: 5 * time.Second,
	}
}

// DefaultBridge names the bridge of a switch by lower casing its id, so
// switch S1 is bridge s1.
func DefaultBridge(node topology.NodeID) string {
	return strings.ToLower(string(node))
}

// Ofctl applies rules by running ovs-ofctl. Commands for one bridge are
// serialized; different bridges proceed in parallel.
type Ofctl struct {
	config OfctlConfig
	runner Runner

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOfctl(config OfctlConfig, runner Runner) *Ofctl {
	if config.Binary == "" {
		config.Binary = "ovs-ofctl"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Ofctl{
		config: config,
		runner: runner,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Bridge returns the bridge name of node.
func (o *Ofctl) Bridge(node topology.NodeID) string {
	if b, ok := o.config.Bridges[string(node)]; ok {
		return b
	}
	return DefaultBridge(node)
}

func (o *Ofctl) Apply(ctx context.Context, rule flowrule.FlowRule) error {
	return o.run(ctx, "add-flow", o.Bridge(rule.Node), rule.String())
}

func (o *Ofctl) Clear(ctx context.Context, node topology.NodeID) error {
	return o.run(ctx, "del-flows", o.Bridge(node))
}

func (o *Ofctl) run(ctx context.Context, verb, bridge string, rest ...string) error {
	lock := o.lock(bridge)
	lock.Lock()
	defer lock.Unlock()

	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}

	name, args := o.command(verb, bridge, rest...)
	out, err := o.runner.Run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s %s %s: %w: %s", o.config.Binary, verb, bridge, err, strings.TrimSpace(string(out)))
	}
	log.Debugf("Ofctl: %s %s %v", verb, bridge, rest)
	return nil
}

func (o *Ofctl) command(verb, bridge string, rest ...string) (string, []string) {
	var args []string
	if o.config.Protocols != "" {
		args = append(args, "-O", o.config.Protocols)
	}
	args = append(args, verb, bridge)
	args = append(args, rest...)
	if o.config.Sudo {
		return "sudo", append([]string{o.config.Binary}, args...)
	}
	return o.config.Binary, args
}

func (o *Ofctl) lock(bridge string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[bridge]
	if !ok {
		l = &sync.Mutex{}
		o.locks[bridge] = l
	}
	return l
}
