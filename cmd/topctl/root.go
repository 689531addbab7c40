package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/birbparty/taobao-top/internal/audit"
	"github.com/birbparty/taobao-top/internal/config"
	"github.com/birbparty/taobao-top/internal/session"
	"github.com/birbparty/taobao-top/internal/telemetry"
	"github.com/birbparty/taobao-top/sdk"
)

// app carries state shared by every command
type app struct {
	envFile string
	domain  string
	verbose bool

	cfg *config.Config
	tel *telemetry.Telemetry
	log *logrus.Entry

	// openStore is replaced in tests
	openStore func(ctx context.Context, cfg *session.Config) (session.Store, io.Closer, error)
}

func newRootCmd() *cobra.Command {
	return (&app{openStore: openRedisStore}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "topctl",
		Short:        "Call Taobao Open Platform API methods",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.tel != nil {
				return a.tel.Shutdown(cmd.Context())
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file read before the environment")
	root.PersistentFlags().StringVar(&a.domain, "domain", "", "gateway domain (overrides TOP_DOMAIN)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log every call attempt to stderr")

	root.AddCommand(a.callCmd())
	root.AddCommand(a.timeCmd())
	root.AddCommand(a.sessionCmd())
	root.AddCommand(versionCmd())
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	if a.domain != "" {
		cfg.Domain = a.domain
	}
	if cfg.Telemetry.ServiceName == "taobao-top" {
		cfg.Telemetry.ServiceName = "topctl"
	}
	if a.verbose {
		cfg.Telemetry.LogLevel = logrus.DebugLevel.String()
		cfg.Telemetry.LogFormat = "text"
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tel, err := telemetry.Init(ctx, &cfg.Telemetry, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.tel = tel
	a.log = tel.Logger
	return nil
}

// newClient builds a client with the stored session and the configured
// observers applied. The returned cleanup must always be called.
func (a *app) newClient(ctx context.Context) (*sdk.Client, func(), error) {
	var closers []io.Closer
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}

	config := a.cfg.SDK(a.log)
	if c, ok := config.Transport.(io.Closer); ok {
		closers = append(closers, c)
	}

	var observers []sdk.Observer
	if a.cfg.Telemetry.EnableMetrics {
		obs, err := telemetry.NewOTelObserver(a.tel.MeterProvider)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to create metrics observer: %w", err)
		}
		observers = append(observers, obs)
	}
	if a.cfg.NATSEnabled {
		pub, err := audit.Connect(&a.cfg.NATS, a.log)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, pub)
		observers = append(observers, pub)
	}
	if len(observers) > 0 {
		config.WithObserver(sdk.NewCompositeObserver(observers...))
	}

	client, err := sdk.NewClient(config)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, client)

	if a.cfg.RedisEnabled {
		store, closer, err := a.openStore(ctx, &a.cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, closer)
		if err := session.Apply(ctx, store, a.cfg.AppKey, client); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to load session: %w", err)
		}
	}

	return client, cleanup, nil
}

func openRedisStore(ctx context.Context, cfg *session.Config) (session.Store, io.Closer, error) {
	store, err := session.NewRedisStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the SDK version",
		// version needs no configuration
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "topctl %s\n", sdk.Version)
			return err
		},
	}
}
