package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"dualpath/config"
	"dualpath/routing"
	"dualpath/sink"
	"dualpath/topology"
)

// env is what every subcommand shares once the config file is loaded.
type env struct {
	configPath string
	sinkKind   string

	cfg    *config.Config
	router *routing.Router
}

func main() {
	e := &env{}
	cmd := &cobra.Command{
		Use:   filepath.Base(os.Args[0]),
		Short: "Dual path stateful routing for OpenFlow switches",
		Args:  cobra.NoArgs,
		// errors are printed by main
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load()
		},
	}
	cmd.PersistentFlags().StringVarP(&e.configPath, "config", "c", "configs/dualpath.toml",
		"Path to the TOML configuration file")
	cmd.PersistentFlags().StringVar(&e.sinkKind, "sink", "",
		fmt.Sprintf("Override the configured sink kind, one of %v", sink.ListGlobal()))

	cmd.AddCommand(
		newPaths(e),
		newRoute(e),
		newClear(e),
		newAgent(e),
	)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func (e *env) load() error {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return err
	}
	if err := initLogging(cfg.Log); err != nil {
		return err
	}
	topo, err := cfg.BuildTopology()
	if err != nil {
		return err
	}
	if e.sinkKind != "" {
		cfg.Sink.Kind = e.sinkKind
	}

	manager := topology.GetInstance()
	manager.SetTopology(topo)
	e.cfg = cfg
	e.router = routing.NewRouter(manager)
	return nil
}

// openSink builds a sink of the given kind from the loaded config.
func (e *env) openSink(kind string) (sink.RuleSink, error) {
	topo, err := e.router.Topology()
	if err != nil {
		return nil, err
	}
	return sink.Open(kind, e.cfg.SinkOptions(topo))
}

func closeSink(s sink.RuleSink) {
	if c, ok := s.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warnf("closing %T: %v", s, err)
		}
	}
}

func initLogging(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return fmt.Errorf("creating log dir %s: %w", cfg.Dir, err)
	}

	// Configure log rotation with lumberjack
	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, cfg.File),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	// rule output goes to stdout, so logs go to stderr and the file
	log.SetOutput(io.MultiWriter(os.Stderr, fileLogger))
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetLevel(level)

	log.Debugf("Logging initialized: file=%s, level=%s", fileLogger.Filename, level)
	return nil
}
