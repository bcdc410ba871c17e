package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"dualpath/flowrule"
	"dualpath/topology"
)

const (
	RulePrefix   = "/dualpath/rules/"
	ResultPrefix = "/dualpath/results/"
)

const (
	OpAddFlow  = "add-flow"
	OpDelFlows = "del-flows"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// RuleTask is one rule, or one clear request, published for an agent.
type RuleTask struct {
	ID        string            `json:"id"`
	Op        string            `json:"op"`
	Node      topology.NodeID   `json:"node"`
	Rule      flowrule.FlowRule `json:"rule"`
	CreatedAt time.Time         `json:"created_at"`
	Status    string            `json:"status"`
}

// TaskKey is where a task is published; agents watch per switch prefixes.
func TaskKey(task RuleTask) string {
	return RulePrefix + string(task.Node) + "/" + task.ID
}

// TaskResult is stored under ResultPrefix+TaskID. Key repeats the task key
// so a publisher only accepts the answer to its own task.
type TaskResult struct {
	TaskID      string    `json:"task_id"`
	Key         string    `json:"key"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

type EtcdConfig struct {
	Endpoints    []string      `toml:"endpoints"`
	DialTimeout  time.Duration `toml:"dial_timeout"`
	ApplyTimeout time.Duration `toml:"apply_timeout"`
}

func DefaultEtcdConfig() EtcdConfig {
	return EtcdConfig{
		Endpoints:    []string{"localhost:2379"},
		DialTimeout:  5 * time.Second,
		ApplyTimeout: 10 * time.Second,
	}
}

var instanceSeq atomic.Uint64

// newInstanceID names a publisher or agent uniquely across processes and
// hosts; task ids derive from it.
func newInstanceID(role string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%d-%d-%d", role, host, os.Getpid(), time.Now().UnixNano(), instanceSeq.Add(1))
}

func newEtcdClient(config EtcdConfig) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return client, nil
}

// Etcd publishes each rule as a task and waits until an agent reports the
// outcome, so a rule counts as applied only once a switch accepted it.
type Etcd struct {
	kv          clientv3.KV
	watcher     clientv3.Watcher
	client      *clientv3.Client
	publisherID string
	config      EtcdConfig
	seq         atomic.Uint64
}

func NewEtcd(config EtcdConfig) (*Etcd, error) {
	client, err := newEtcdClient(config)
	if err != nil {
		return nil, err
	}
	e := NewEtcdWithClient(client, client, config)
	e.client = client
	return e, nil
}

// NewEtcdWithClient builds the sink on an existing key value store and
// watcher.
func NewEtcdWithClient(kv clientv3.KV, watcher clientv3.Watcher, config EtcdConfig) *Etcd {
	if config.ApplyTimeout <= 0 {
		config.ApplyTimeout = DefaultEtcdConfig().ApplyTimeout
	}
	return &Etcd{
		kv:          kv,
		watcher:     watcher,
		publisherID: newInstanceID("publisher"),
		config:      config,
	}
}

func (e *Etcd) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func (e *Etcd) Apply(ctx context.Context, rule flowrule.FlowRule) error {
	return e.submit(ctx, e.newTask(OpAddFlow, rule.Node, rule))
}

func (e *Etcd) Clear(ctx context.Context, node topology.NodeID) error {
	return e.submit(ctx, e.newTask(OpDelFlows, node, flowrule.FlowRule{}))
}

func (e *Etcd) newTask(op string, node topology.NodeID, rule flowrule.FlowRule) RuleTask {
	return RuleTask{
		ID:        fmt.Sprintf("%s-%d", e.publisherID, e.seq.Add(1)),
		Op:        op,
		Node:      node,
		Rule:      rule,
		CreatedAt: time.Now(),
		Status:    StatusPending,
	}
}

func (e *Etcd) submit(ctx context.Context, task RuleTask) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.ApplyTimeout)
	defer cancel()

	// watch before publishing so a fast agent cannot answer unseen
	results := e.watcher.Watch(ctx, ResultPrefix+task.ID)

	taskJSON, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if _, err := e.kv.Put(ctx, TaskKey(task), string(taskJSON)); err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}
	log.Debugf("[%s] Task published: %s (%s on %s)", e.publisherID, task.ID, task.Op, task.Node)

	for {
		select {
		case resp, ok := <-results:
			if !ok {
				return fmt.Errorf("task %s: watch channel closed", task.ID)
			}
			if err := resp.Err(); err != nil {
				return fmt.Errorf("task %s: watch: %w", task.ID, err)
			}
			for _, event := range resp.Events {
				if event.Type != clientv3.EventTypePut {
					continue
				}
				var result TaskResult
				if err := json.Unmarshal(event.Kv.Value, &result); err != nil {
					log.Warningf("[%s] Failed to unmarshal task result: %v", e.publisherID, err)
					continue
				}
				if result.TaskID != task.ID || result.Key != TaskKey(task) {
					log.Warningf("[%s] Ignoring result %s for another task than %s", e.publisherID, result.TaskID, task.ID)
					continue
				}
				if result.Error != "" {
					return fmt.Errorf("task %s: agent: %w", task.ID, errors.New(result.Error))
				}
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for result of task %s: %w", task.ID, ctx.Err())
		}
	}
}
