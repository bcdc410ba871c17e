package install

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dualpath/flowrule"
	"dualpath/routing"
	"dualpath/sink"
	"dualpath/topology"
	"dualpath/topology/topotest"
)

var errSwitchDown = errors.New("switch down")

func newInstaller(s sink.RuleSink) *Installer {
	router := routing.NewRouter(topology.NewStaticManager(topotest.Original()))
	return NewInstaller(router, s)
}

func TestPlan(t *testing.T) {
	inst := newInstaller(sink.NewRecorder())

	t.Run("two paths", func(t *testing.T) {
		plan, err := inst.Plan(context.Background(), routing.Request{SourceHost: "H1", TargetHost: "H6"})
		require.NoError(t, err)
		require.Len(t, plan.Paths, 2)

		assert.Equal(t, routing.Path{"S1", "S2", "S4", "S8"}, plan.Paths[0].Path)
		assert.Equal(t, routing.Path{"S1", "S6", "S7", "S5", "S8"}, plan.Paths[1].Path)
		assert.Len(t, plan.Paths[0].Rules, 24)
		assert.Len(t, plan.Paths[1].Rules, 30)
		assert.Len(t, plan.ARP, 8)
		assert.Len(t, plan.Rules(), 62)

		for rank, pr := range plan.Paths {
			assert.Equal(t, flowrule.DefaultTiers()[rank], pr.Tier)
			for _, r := range pr.Rules {
				assert.Equal(t, pr.Tier.Priority, r.Priority)
			}
		}
		for _, r := range plan.ARP {
			assert.Equal(t, "table=0,priority=200,dl_type=0x0806,actions=flood", r.String())
		}
	})

	t.Run("shared switch", func(t *testing.T) {
		plan, err := inst.Plan(context.Background(), routing.Request{SourceHost: "H4", TargetHost: "H5"})
		require.NoError(t, err)
		require.Len(t, plan.Paths, 1)
		assert.Equal(t, routing.Path{"S5"}, plan.Paths[0].Path)
		assert.Len(t, plan.Paths[0].Rules, 6)
	})

	t.Run("unknown host", func(t *testing.T) {
		_, err := inst.Plan(context.Background(), routing.Request{SourceHost: "H1", TargetHost: "H42"})
		assert.ErrorIs(t, err, topology.ErrUnknownHost)
	})

	t.Run("not enough tiers", func(t *testing.T) {
		narrow := *inst
		narrow.Tiers = []flowrule.Tier{{Priority: 200, Table: 0}}
		_, err := narrow.Plan(context.Background(), routing.Request{SourceHost: "H1", TargetHost: "H6"})
		assert.ErrorIs(t, err, ErrNoTier)
	})

	t.Run("arp disabled", func(t *testing.T) {
		quiet := *inst
		quiet.ARP.Enabled = false
		plan, err := quiet.Plan(context.Background(), routing.Request{SourceHost: "H1", TargetHost: "H6"})
		require.NoError(t, err)
		assert.Empty(t, plan.ARP)
	})
}

func TestInstall(t *testing.T) {
	req := routing.Request{SourceHost: "H1", TargetHost: "H6"}

	t.Run("clears then installs everything", func(t *testing.T) {
		rec := sink.NewRecorder()
		inst := newInstaller(rec)
		inst.ClearFirst = true

		result, err := inst.Install(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, result.Complete())
		assert.True(t, result.Cleared)
		assert.Len(t, rec.Cleared(), 8)
		assert.Equal(t, result.Plan.Rules(), rec.Rules())
	})

	t.Run("reports partial installation", func(t *testing.T) {
		rec := sink.NewRecorder()
		rec.FailOn = func(r flowrule.FlowRule) error {
			if r.Node == "S4" {
				return errSwitchDown
			}
			return nil
		}
		inst := newInstaller(rec)

		result, err := inst.Install(context.Background(), req)
		require.Error(t, err)
		assert.ErrorIs(t, err, sink.ErrRuleApply)
		assert.ErrorIs(t, err, errSwitchDown)
		assert.False(t, result.Complete())
		// S1 and S2 forward rules precede the first S4 rule
		assert.Len(t, result.Report.Applied, 6)
		assert.Equal(t, 62, result.Report.Total)

		var applyErr *sink.ApplyError
		require.ErrorAs(t, err, &applyErr)
		assert.Equal(t, topology.NodeID("S4"), applyErr.Rule.Node)
	})
}

func TestInstallBatch(t *testing.T) {
	rec := sink.NewRecorder()
	inst := newInstaller(rec)
	inst.ARP.Enabled = false
	inst.ClearFirst = true

	reqs := []routing.Request{
		{SourceHost: "H1", TargetHost: "H6"},
		{SourceHost: "H4", TargetHost: "H5"},
		{SourceHost: "H1", TargetHost: "H99"},
		{SourceHost: "H2", TargetHost: "H9"},
	}
	results, err := inst.InstallBatch(context.Background(), reqs, PoolConfig{MaxWorkers: 2})
	require.NoError(t, err)
	require.Len(t, results, len(reqs))

	total := 0
	for i, r := range results {
		assert.Equal(t, reqs[i], r.Request)
		if reqs[i].TargetHost == "H99" {
			assert.ErrorIs(t, r.Err, topology.ErrUnknownHost)
			continue
		}
		require.NoError(t, r.Err)
		assert.True(t, r.Result.Complete())
		assert.False(t, r.Result.Cleared)
		total += r.Result.Report.Total
	}
	assert.Len(t, rec.Rules(), total)
	assert.Len(t, rec.Cleared(), 8)

	summary := Summarize(results)
	assert.Equal(t, total, summary.Total)
	assert.True(t, summary.Complete())
	assert.ElementsMatch(t, rec.Rules(), summary.Applied)
}

func TestSummarizeCountsPartialInstalls(t *testing.T) {
	rec := sink.NewRecorder()
	rec.FailOn = func(r flowrule.FlowRule) error {
		if r.Node == "S4" {
			return errSwitchDown
		}
		return nil
	}
	inst := newInstaller(rec)
	inst.ARP.Enabled = false

	reqs := []routing.Request{
		{SourceHost: "H1", TargetHost: "H6"},
		{SourceHost: "H4", TargetHost: "H5"},
	}
	results, err := inst.InstallBatch(context.Background(), reqs, PoolConfig{MaxWorkers: 1})
	require.NoError(t, err)
	require.Error(t, results[0].Err)
	require.NoError(t, results[1].Err)

	summary := Summarize(results)
	// 54 rules over both H1-H6 paths plus 6 on S5
	assert.Equal(t, 60, summary.Total)
	assert.Len(t, summary.Applied, 6+6)
	assert.False(t, summary.Complete())
}

func TestVerify(t *testing.T) {
	inst := newInstaller(sink.NewRecorder())

	for _, req := range []routing.Request{
		{SourceHost: "H1", TargetHost: "H6"},
		{SourceHost: "H6", TargetHost: "H1"},
		{SourceHost: "H3", TargetHost: "H9"},
		{SourceHost: "H4", TargetHost: "H5"},
		{SourceHost: "H2", TargetHost: "H8"},
	} {
		t.Run(req.String(), func(t *testing.T) {
			plan, err := inst.Plan(context.Background(), req)
			require.NoError(t, err)
			assert.NoError(t, Verify(context.Background(), plan))
		})
	}

	t.Run("wrong port", func(t *testing.T) {
		plan, err := inst.Plan(context.Background(), routing.Request{SourceHost: "H1", TargetHost: "H6"})
		require.NoError(t, err)
		// the new-connection rule of S2 points back to S1
		rules := plan.Paths[0].Rules
		require.Equal(t, flowrule.ActionCommitOutput, rules[4].Action.Kind)
		rules[4].Action.Port = 1

		assert.ErrorIs(t, Verify(context.Background(), plan), ErrVerify)
	})
}
