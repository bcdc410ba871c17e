package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"dualpath/topology"
)

// Agent runs next to the switches. It watches published rule tasks, applies
// them to a local sink and stores the outcome for the publisher. Tasks are
// handled one at a time in watch order, which keeps the per switch rule
// order the publisher relies on.
type Agent struct {
	kv      clientv3.KV
	watcher clientv3.Watcher
	client  *clientv3.Client
	agentID string
	local   RuleSink
	nodes   map[topology.NodeID]bool
}

// NewAgent connects to etcd. An empty nodes list serves every switch.
func NewAgent(config EtcdConfig, local RuleSink, nodes []topology.NodeID) (*Agent, error) {
	client, err := newEtcdClient(config)
	if err != nil {
		return nil, err
	}
	a := NewAgentWithClient(client, client, local, nodes)
	a.client = client
	return a, nil
}

func NewAgentWithClient(kv clientv3.KV, watcher clientv3.Watcher, local RuleSink, nodes []topology.NodeID) *Agent {
	a := &Agent{
		kv:      kv,
		watcher: watcher,
		agentID: newInstanceID("agent"),
		local:   local,
		nodes:   make(map[topology.NodeID]bool, len(nodes)),
	}
	for _, n := range nodes {
		a.nodes[n] = true
	}
	return a
}

func (a *Agent) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

func (a *Agent) Start(ctx context.Context) error {
	log.Infof("[%s] Agent starting, serving %d switches (0 means all)", a.agentID, len(a.nodes))

	watchChan := a.watcher.Watch(ctx, RulePrefix, clientv3.WithPrefix())

	for {
		select {
		case <-ctx.Done():
			log.Infof("[%s] Agent shutting down...", a.agentID)
			return nil

		case resp, ok := <-watchChan:
			if !ok {
				if ctx.Err() != nil {
					log.Infof("[%s] Agent shutting down...", a.agentID)
					return nil
				}
				return fmt.Errorf("watch channel closed")
			}
			if err := resp.Err(); err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			for _, event := range resp.Events {
				if event.Type == clientv3.EventTypePut {
					a.handleTask(ctx, string(event.Kv.Key), event.Kv.Value)
				}
			}
		}
	}
}

func (a *Agent) serves(node topology.NodeID) bool {
	return len(a.nodes) == 0 || a.nodes[node]
}

func (a *Agent) handleTask(ctx context.Context, key string, value []byte) {
	if !strings.HasPrefix(key, RulePrefix) {
		return
	}
	var task RuleTask
	if err := json.Unmarshal(value, &task); err != nil {
		log.Errorf("[%s] Failed to unmarshal task %s: %v", a.agentID, key, err)
		return
	}
	if task.Status != StatusPending || !a.serves(task.Node) {
		return
	}

	task.Status = StatusProcessing
	if err := a.putJSON(ctx, key, task); err != nil {
		log.Errorf("[%s] Failed to update task status: %v", a.agentID, err)
		return
	}

	err := a.apply(ctx, task)

	taskResult := TaskResult{
		TaskID:      task.ID,
		Key:         key,
		CompletedAt: time.Now(),
	}
	if err != nil {
		task.Status = StatusFailed
		taskResult.Error = err.Error()
		log.Errorf("[%s] Task failed: %s (%s on %s) - %v", a.agentID, task.ID, task.Op, task.Node, err)
	} else {
		task.Status = StatusCompleted
		log.Debugf("[%s] Task completed: %s (%s on %s)", a.agentID, task.ID, task.Op, task.Node)
	}

	if err := a.putJSON(ctx, ResultPrefix+task.ID, taskResult); err != nil {
		log.Errorf("[%s] Failed to store task result: %v", a.agentID, err)
		return
	}
	if err := a.putJSON(ctx, key, task); err != nil {
		log.Errorf("[%s] Failed to update task status after completion: %v", a.agentID, err)
	}
}

func (a *Agent) apply(ctx context.Context, task RuleTask) error {
	switch task.Op {
	case OpAddFlow:
		return a.local.Apply(ctx, task.Rule)
	case OpDelFlows:
		c, ok := a.local.(Clearer)
		if !ok {
			return fmt.Errorf("local sink cannot clear flows")
		}
		return c.Clear(ctx, task.Node)
	}
	return fmt.Errorf("unknown task op %q", task.Op)
}

func (a *Agent) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = a.kv.Put(ctx, key, string(data))
	return err
}
