package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dualpath/topology"
	"dualpath/topology/topotest"
)

func TestComputeRouting(t *testing.T) {
	router := NewRouter(topology.NewStaticManager(topotest.Original()))

	t.Run("two paths", func(t *testing.T) {
		r, err := router.ComputeRouting("H1", "H6")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.1", r.Source.Address.String())
		assert.Equal(t, "10.0.0.6", r.Target.Address.String())
		assert.Equal(t, Path{"S1", "S2", "S4", "S8"}, r.Paths.Primary)
		assert.Equal(t, Path{"S1", "S6", "S7", "S5", "S8"}, r.Paths.Backup)
	})

	t.Run("hosts on the same switch", func(t *testing.T) {
		r, err := router.ComputeRouting("H4", "H5")
		require.NoError(t, err)
		assert.Equal(t, Path{"S5"}, r.Paths.Primary)
		assert.False(t, r.Paths.HasBackup())
	})

	t.Run("unknown host", func(t *testing.T) {
		_, err := router.ComputeRouting("H1", "H10")
		assert.ErrorIs(t, err, topology.ErrUnknownHost)
		_, err = router.ComputeRouting("X", "H1")
		assert.ErrorIs(t, err, topology.ErrUnknownHost)
	})

	t.Run("uninitialized manager", func(t *testing.T) {
		_, err := NewRouter(topology.NewManager()).ComputeRouting("H1", "H2")
		assert.ErrorIs(t, err, topology.ErrNotInitialized)
	})
}

func TestPath(t *testing.T) {
	p := Path{"S1", "S2", "S4", "S8"}
	assert.Equal(t, 3, p.Hops())
	assert.Equal(t, []topology.NodeID{"S2", "S4"}, p.Interior())
	assert.Equal(t, "[S1 S2 S4 S8]", p.String())
	assert.Nil(t, Path{"S1", "S2"}.Interior())
	assert.Equal(t, 0, Path{"S1"}.Hops())
	assert.True(t, p.Equal(Path{"S1", "S2", "S4", "S8"}))
	assert.False(t, p.Equal(Path{"S1", "S3", "S4", "S8"}))
}
