package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/denwilliams/go-mqtt-homelink/pkg/config"
	"github.com/denwilliams/go-mqtt-homelink/pkg/journal"
	"github.com/denwilliams/go-mqtt-homelink/pkg/logging"
	"github.com/denwilliams/go-mqtt-homelink/pkg/mqtt"
	"github.com/denwilliams/go-mqtt-homelink/pkg/topics"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Build-time variables
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "homelink",
		Short:         "Resilient MQTT link to a home device",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config/config.yaml", "Path to configuration file")

	root.AddCommand(newServeCommand(&cfgPath))
	root.AddCommand(newPublishCommand(&cfgPath))
	root.AddCommand(newWatchCommand(&cfgPath))
	root.AddCommand(newAttemptsCommand(&cfgPath))
	root.AddCommand(newMigrateCommand(&cfgPath))
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newServeCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the connection daemon and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(*cfgPath)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.Cleanup()

			app.setupSignalHandling()
			if err := app.Start(); err != nil {
				return fmt.Errorf("failed to start application: %w", err)
			}

			app.Wait()
			app.logger.Info("Application shutdown complete")
			return nil
		},
	}
}

func newPublishCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <topic> <payload>",
		Short: "Connect, publish one message and disconnect",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := loadCLI(*cfgPath)
			if err != nil {
				return err
			}
			defer closeLog()

			opts, err := cfg.ClientOptions(nil, logger)
			if err != nil {
				return err
			}
			client, err := mqtt.NewClient(opts)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			h, err := client.Connect(ctx, nil)
			if err != nil {
				return err
			}
			defer h.Disconnect()

			if err := h.Publish(args[0], []byte(args[1])); err != nil {
				return err
			}
			ep, _ := h.Endpoint()
			fmt.Fprintf(cmd.OutOrStdout(), "published %d bytes to %s via %s\n", len(args[1]), args[0], ep)
			return nil
		},
	}
}

func newWatchCommand(cfgPath *string) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print device updates and connection events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := loadCLI(*cfgPath)
			if err != nil {
				return err
			}
			defer closeLog()

			device, err := cfg.Device()
			if err != nil {
				return err
			}
			opts, err := cfg.ClientOptions(nil, logger)
			if err != nil {
				return err
			}
			client, err := mqtt.NewClient(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			stamp := func(t time.Time) string { return t.Format("15:04:05") }

			var observer mqtt.Observer
			printEvents := mqtt.ObserverFuncs{
				OnEvent: func(ev mqtt.Event) {
					line := fmt.Sprintf("%s [%s] %s", stamp(ev.At), ev.Kind, ev.Endpoint.Name)
					if ev.Err != nil {
						line += ": " + ev.Err.Error()
					}
					fmt.Fprintln(out, line)
				},
			}
			if raw {
				printEvents.OnMessage = func(msg mqtt.Message) {
					fmt.Fprintf(out, "%s %s %s\n", stamp(msg.ReceivedAt), msg.Topic, msg.Payload)
				}
				observer = printEvents
			} else {
				router := topics.NewRouter(device, topics.HandlerFuncs{
					State: func(on bool) {
						fmt.Fprintf(out, "%s power %s\n", stamp(time.Now()), onOff(on))
					},
					Reading: func(r topics.Reading) {
						fmt.Fprintf(out, "%s %s %s\n", stamp(r.At), r.Channel, r.Raw)
					},
					Status: func(channel, text string) {
						fmt.Fprintf(out, "%s %s %s\n", stamp(time.Now()), channel, text)
					},
				}, logger)
				observer = mqtt.MultiObserver(router, printEvents)
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			h, err := client.Connect(ctx, observer)
			if err != nil {
				return err
			}
			defer h.Disconnect()

			select {
			case <-ctx.Done():
			case <-h.Done():
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print raw topic and payload instead of decoded values")
	return cmd
}

func newAttemptsCommand(cfgPath *string) *cobra.Command {
	var (
		limit  int
		events bool
	)

	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show recent connection attempts from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := loadCLI(*cfgPath)
			if err != nil {
				return err
			}
			defer closeLog()

			manager, err := journal.NewManager(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer manager.Close()

			if events {
				records, err := manager.RecentEvents(limit)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(eventHeaders, eventRows(records)))
				return nil
			}

			records, err := manager.RecentAttempts(limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(attemptHeaders, attemptRows(records)))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of rows to show")
	cmd.Flags().BoolVar(&events, "events", false, "Show lifecycle events instead of attempts")
	return cmd
}

func newMigrateCommand(cfgPath *string) *cobra.Command {
	var pruneDays int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run journal migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := loadCLI(*cfgPath)
			if err != nil {
				return err
			}
			defer closeLog()

			manager, err := journal.NewManager(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer manager.Close()

			if pruneDays > 0 {
				removed, err := manager.Prune(pruneDays)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "pruned "+strconv.FormatInt(removed, 10)+" rows")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations completed successfully")
			return nil
		},
	}
	cmd.Flags().IntVar(&pruneDays, "prune-days", 0, "Also delete journal rows older than this many days")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (built %s)\n", appName, version, buildDate)
		},
	}
}

// loadCLI is the shared setup for one-shot commands.
func loadCLI(cfgPath string) (*config.Config, *logrus.Logger, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, func() { _ = closer.Close() }, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
