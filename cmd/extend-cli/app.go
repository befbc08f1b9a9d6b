package main

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pior/extend"
)

// options are the global flags, shared by every command.
type options struct {
	logLevel   string
	devLogging bool
	configPath string
	addresses  cli.StringSlice
	cluster    string
	service    string

	logger *zap.Logger
}

func newApp() *cli.App {
	opts := &options{logLevel: "warn"}
	return &cli.App{
		Name:  "extend-cli",
		Usage: "Talk to Coherence Extend proxies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Verbosity of log, valid values are: debug, info, warn, error",
				EnvVars:     []string{"EXTEND_LOG_LEVEL"},
				Destination: &opts.logLevel,
				Value:       opts.logLevel,
			},
			&cli.BoolFlag{
				Name:        "dev",
				Usage:       "Human readable development logs",
				Destination: &opts.devLogging,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "TOML client configuration file",
				EnvVars:     []string{"EXTEND_CONFIG"},
				Destination: &opts.configPath,
			},
			&cli.StringSliceFlag{
				Name:        "address",
				Aliases:     []string{"a"},
				Usage:       "Proxy address, host:port; repeat for fail-over. Overrides the configuration file",
				EnvVars:     []string{"EXTEND_ADDRESSES"},
				Destination: &opts.addresses,
			},
			&cli.StringFlag{
				Name:        "cluster",
				Usage:       "Cluster name sent in the handshake",
				Destination: &opts.cluster,
			},
			&cli.StringFlag{
				Name:        "service",
				Usage:       "Proxy service name sent in the handshake",
				Destination: &opts.service,
			},
		},
		Before: func(*cli.Context) error {
			logger, err := opts.buildLogger()
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		After: func(*cli.Context) error {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			pingCmd(opts),
			infoCmd(opts),
			partitionCmd(),
		},
	}
}

func (o *options) buildLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(o.logLevel)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}

	cfg := zap.NewProductionConfig()
	if o.devLogging {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// client builds an extend.Client from the configuration file and flags.
func (o *options) client() (*extend.Client, error) {
	var cfg extend.Config
	var addrs []string
	if o.configPath != "" {
		var err error
		cfg, addrs, err = extend.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
	}
	if flagAddrs := o.addresses.Value(); len(flagAddrs) > 0 {
		addrs = flagAddrs
	}
	if len(addrs) == 0 {
		return nil, errors.New("no proxy address: use --address or --config")
	}
	if o.cluster != "" {
		cfg.Messaging.ClusterName = o.cluster
	}
	if o.service != "" {
		cfg.Messaging.ServiceName = o.service
	}
	cfg.Logger = o.logger
	return extend.NewClient(extend.NewStaticAddresses(addrs...), cfg)
}
