package sink

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"dualpath/flowrule"
	"dualpath/topology"
)

// fakeEtcd is an in-memory clientv3.KV and clientv3.Watcher.
type fakeEtcd struct {
	mu       sync.Mutex
	data     map[string]string
	watchers []*fakeWatch
}

type fakeWatch struct {
	key    string
	prefix bool
	ch     chan clientv3.WatchResponse
}

func newFakeEtcd() *fakeEtcd {
	return &fakeEtcd{data: make(map[string]string)}
}

func (f *fakeEtcd) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = val
	event := &clientv3.Event{
		Type: clientv3.EventTypePut,
		Kv:   &mvccpb.KeyValue{Key: []byte(key), Value: []byte(val)},
	}
	for _, w := range f.watchers {
		if w.key == key || (w.prefix && strings.HasPrefix(key, w.key)) {
			select {
			case w.ch <- clientv3.WatchResponse{Events: []*clientv3.Event{event}}:
			default:
			}
		}
	}
	return &clientv3.PutResponse{}, nil
}

func (f *fakeEtcd) Get(context.Context, string, ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	return &clientv3.GetResponse{}, nil
}

func (f *fakeEtcd) Delete(context.Context, string, ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	return &clientv3.DeleteResponse{}, nil
}

func (f *fakeEtcd) Compact(context.Context, int64, ...clientv3.CompactOption) (*clientv3.CompactResponse, error) {
	return &clientv3.CompactResponse{}, nil
}

func (f *fakeEtcd) Do(context.Context, clientv3.Op) (clientv3.OpResponse, error) {
	return clientv3.OpResponse{}, nil
}

func (f *fakeEtcd) Txn(context.Context) clientv3.Txn {
	return nil
}

func (f *fakeEtcd) Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan {
	op := clientv3.OpGet(key, opts...)
	w := &fakeWatch{
		key:    key,
		prefix: len(op.RangeBytes()) > 0,
		ch:     make(chan clientv3.WatchResponse, 128),
	}
	f.mu.Lock()
	f.watchers = append(f.watchers, w)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, other := range f.watchers {
			if other == w {
				f.watchers = append(f.watchers[:i], f.watchers[i+1:]...)
				break
			}
		}
		close(w.ch)
	}()
	return w.ch
}

func (f *fakeEtcd) RequestProgress(context.Context) error { return nil }

func (f *fakeEtcd) Close() error { return nil }

func (f *fakeEtcd) value(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key]
}

func startAgent(t *testing.T, store *fakeEtcd, local RuleSink, nodes ...topology.NodeID) {
	t.Helper()
	agent := NewAgentWithClient(store, store, local, nodes)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	// the agent's watch has to exist before anything is published
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.watchers) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestEtcdSinkWithAgent(t *testing.T) {
	store := newFakeEtcd()
	rec := NewRecorder()
	startAgent(t, store, rec)

	publisher := NewEtcdWithClient(store, store, EtcdConfig{ApplyTimeout: 2 * time.Second})
	rules := testRules(4)

	report, err := Install(context.Background(), publisher, rules)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Equal(t, rules, rec.Rules())

	require.NoError(t, publisher.Clear(context.Background(), "S2"))
	assert.Equal(t, []topology.NodeID{"S2"}, rec.Cleared())

	// the first task ends up completed
	var task RuleTask
	first := RuleTask{ID: publisher.publisherID + "-1", Node: rules[0].Node}
	require.NoError(t, json.Unmarshal([]byte(store.value(TaskKey(first))), &task))
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, OpAddFlow, task.Op)
	assert.Equal(t, rules[0], task.Rule)
}

func TestEtcdSinkReportsAgentFailure(t *testing.T) {
	store := newFakeEtcd()
	rec := NewRecorder()
	rec.FailOn = func(r flowrule.FlowRule) error {
		if r.Node == "S2" {
			return errSwitchDown
		}
		return nil
	}
	startAgent(t, store, rec)

	publisher := NewEtcdWithClient(store, store, EtcdConfig{ApplyTimeout: 2 * time.Second})
	report, err := Install(context.Background(), publisher, testRules(4))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRuleApply)
	assert.Contains(t, err.Error(), errSwitchDown.Error())
	assert.Len(t, report.Applied, 1)
}

func TestEtcdPublishersSharingAStore(t *testing.T) {
	store := newFakeEtcd()
	rec := NewRecorder()
	rec.FailOn = func(r flowrule.FlowRule) error {
		if r.Node == "S2" {
			return errSwitchDown
		}
		return nil
	}
	startAgent(t, store, rec)

	config := EtcdConfig{ApplyTimeout: 2 * time.Second}
	first := NewEtcdWithClient(store, store, config)
	second := NewEtcdWithClient(store, store, config)
	require.NotEqual(t, first.publisherID, second.publisherID)

	var wg sync.WaitGroup
	var firstErr, secondErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		firstErr = first.Apply(context.Background(), flowrule.ARPFlood("S1", 200))
	}()
	go func() {
		defer wg.Done()
		secondErr = second.Apply(context.Background(), flowrule.ARPFlood("S2", 200))
	}()
	wg.Wait()

	assert.NoError(t, firstErr)
	require.Error(t, secondErr)
	assert.Contains(t, secondErr.Error(), errSwitchDown.Error())
	assert.Equal(t, []flowrule.FlowRule{flowrule.ARPFlood("S1", 200)}, rec.Rules())
}

func TestEtcdSinkIgnoresResultOfAnotherTask(t *testing.T) {
	store := newFakeEtcd()
	publisher := NewEtcdWithClient(store, store, EtcdConfig{ApplyTimeout: 200 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- publisher.Apply(context.Background(), flowrule.ARPFlood("S1", 200)) }()
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.watchers) > 0
	}, time.Second, 5*time.Millisecond)

	// same task id, but the answer belongs to a task on another switch
	id := publisher.publisherID + "-1"
	data, err := json.Marshal(TaskResult{TaskID: id, Key: RulePrefix + "S2/" + id, CompletedAt: time.Now()})
	require.NoError(t, err)
	_, err = store.Put(context.Background(), ResultPrefix+id, string(data))
	require.NoError(t, err)

	assert.ErrorIs(t, <-done, context.DeadlineExceeded)
}

func TestEtcdSinkTimesOutWithoutAgent(t *testing.T) {
	store := newFakeEtcd()
	publisher := NewEtcdWithClient(store, store, EtcdConfig{ApplyTimeout: 50 * time.Millisecond})

	err := publisher.Apply(context.Background(), flowrule.ARPFlood("S1", 200))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAgentOnlyServesItsSwitches(t *testing.T) {
	store := newFakeEtcd()
	rec := NewRecorder()
	agent := NewAgentWithClient(store, store, rec, []topology.NodeID{"S1"})

	for i, node := range []topology.NodeID{"S1", "S2"} {
		task := RuleTask{ID: "t" + string(rune('0'+i)), Op: OpAddFlow, Node: node, Rule: flowrule.ARPFlood(node, 200), Status: StatusPending}
		data, err := json.Marshal(task)
		require.NoError(t, err)
		agent.handleTask(context.Background(), TaskKey(task), data)
	}

	require.Len(t, rec.Rules(), 1)
	assert.Equal(t, topology.NodeID("S1"), rec.Rules()[0].Node)
	assert.NotEmpty(t, store.value(ResultPrefix+"t0"))
	assert.Empty(t, store.value(ResultPrefix+"t1"))
}
