package topology

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Manager holds the topology currently in use. A reload swaps the whole
// immutable value, so every reader works on one consistent snapshot.
type Manager struct {
	topology *Topology
	mutex    sync.RWMutex
}

var (
	instance *Manager
	once     sync.Once
)

// GetInstance returns the process wide Manager.
func GetInstance() *Manager {
	once.Do(func() {
		instance = NewManager()
	})
	return instance
}

func NewManager() *Manager {
	return &Manager{}
}

// NewStaticManager returns a Manager already holding t.
func NewStaticManager(t *Topology) *Manager {
	m := NewManager()
	m.SetTopology(t)
	return m
}

func (m *Manager) SetTopology(t *Topology) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.topology = t
	log.Infof("SetTopology, node num: %d , link num: %d , host num: %d", t.NodeCount(), t.LinkCount(), len(t.hosts))
}

func (m *Manager) IsInitialized() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.topology != nil
}

// Topology returns the current snapshot.
func (m *Manager) Topology() (*Topology, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.topology == nil {
		return nil, ErrNotInitialized
	}
	return m.topology, nil
}
