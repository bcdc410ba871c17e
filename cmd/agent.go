package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dualpath/sink"
)

func newAgent(e *env) *cobra.Command {
	var flags struct {
		transport string
		local     string
	}
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Apply rules received from a remote route command to local switches",
		Long: `'agent' runs next to the switches. With --transport etcd it watches the
rule tasks published by an etcd sink; with --transport stream it accepts
smux connections from a stream sink. Rules are applied to the local sink,
ovs-ofctl by default.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			local, err := e.openSink(flags.local)
			if err != nil {
				return err
			}
			defer closeSink(local)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			signalChan := make(chan os.Signal, 1)
			signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-signalChan
				log.Infof("received signal, shutting down")
				cancel()
			}()

			switch flags.transport {
			case sink.KindEtcd:
				agent, err := sink.NewAgent(e.cfg.Etcd, local, e.cfg.Sink.Nodes())
				if err != nil {
					return err
				}
				defer agent.Close()
				return agent.Start(ctx)

			case sink.KindStream:
				listener, err := net.Listen("tcp", e.cfg.Stream.Addr)
				if err != nil {
					return fmt.Errorf("listening tcp failed, addr:%v, err:%w", e.cfg.Stream.Addr, err)
				}
				log.Infof("listening tcp success, addr:%v", e.cfg.Stream.Addr)
				return sink.NewStreamServer(local).Serve(ctx, listener)
			}
			return fmt.Errorf("unknown transport %q, want %s or %s", flags.transport, sink.KindEtcd, sink.KindStream)
		},
	}
	cmd.Flags().StringVar(&flags.transport, "transport", sink.KindEtcd, "Where rules come from: etcd or stream")
	cmd.Flags().StringVar(&flags.local, "local", sink.KindOfctl, "Sink applying the received rules")
	return cmd
}
