package datapath

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"dualpath/sink"
)

// KindSim is the sink kind applying rules to a Simulator.
const KindSim = "sim"

func init() {
	err := sink.RegisterGlobal(KindSim, func(opts sink.Options) (sink.RuleSink, error) {
		if opts.Topology == nil {
			return nil, errors.New("sim sink needs a topology")
		}
		return NewSimulator(opts.Topology), nil
	})
	if err != nil {
		log.Warnf("Failed to register %s sink: %v", KindSim, err)
	}
}
