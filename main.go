package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"i4.energy/across/smsrelay/journal"
	"i4.energy/across/smsrelay/lifecycle"
	"i4.energy/across/smsrelay/modem"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "smsrelay",
		Short:        "Relay SMS and voice calls through a serial GSM modem",
		SilenceUsage: true,
	}
	RegisterFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(), newSendCmd(), newCallCmd(), newStatusCmd())
	return root
}

// setup loads the configuration for cmd and builds the logger.
func setup(cmd *cobra.Command) (*Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	config, err := LoadConfig(WithDefaults(), WithFile(path), WithEnv(), WithFlags(cmd.Flags()))
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	level, _ := parseLogLevel(config.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return config, logger, nil
}

// relay is the modem session and the subsystems built on it.
type relay struct {
	session *modem.Session
	sender  *modem.SMSSender
	caller  *modem.PhoneCaller
	orch    *lifecycle.Orchestrator
}

func openRelay(ctx context.Context, config *Config, logger *slog.Logger) (*relay, error) {
	modemConfig, err := config.ModemConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("create modem config: %w", err)
	}
	session, err := modem.Open(ctx, modemConfig)
	if err != nil {
		return nil, err
	}

	r := &relay{
		session: session,
		sender:  modem.NewSMSSender(session, nil),
		caller:  modem.NewPhoneCaller(session),
		orch:    lifecycle.New(logger),
	}
	err = errors.Join(
		r.orch.Add(lifecycle.KindSession, sessionInitializer(session)),
		r.orch.Add(lifecycle.KindSMSSender, r.sender, lifecycle.KindSession),
		r.orch.Add(lifecycle.KindPhoneCaller, r.caller, lifecycle.KindSession),
	)
	if err != nil {
		session.Close()
		return nil, err
	}
	return r, nil
}

func (r *relay) Close() error {
	return r.session.Close()
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay daemon and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), config, logger)
		},
	}
}

func serve(ctx context.Context, config *Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := openRelay(ctx, config, logger)
	if err != nil {
		logger.Error("Failed to open modem", "error", err, "port", config.SerialPort)
		return err
	}
	defer func() {
		logger.Info("Closing modem connection")
		if err := r.Close(); err != nil {
			logger.Error("Failed to close modem", "error", err)
		}
	}()

	var j *journal.Journal
	if config.JournalPath != "" {
		if j, err = journal.Open(config.JournalPath); err != nil {
			logger.Error("Failed to open journal", "error", err, "path", config.JournalPath)
			return err
		}
		defer j.Close()
	}

	var notifyReady sync.Once
	ready := func() {
		notifyReady.Do(func() {
			if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				logger.Warn("Failed to notify systemd", "error", err)
			} else if ok {
				logger.Debug("Notified systemd readiness")
			}
		})
	}

	logger.Info("Starting SMS relay", "port", config.SerialPort, "baud_rate", config.BaudRate)
	if err := r.orch.InitializeAll(ctx); err != nil {
		logger.Error("Initialization failed", "error", err, "auto_reconnect", config.AutoReconnect)
	} else {
		ready()
	}

	listener := modem.NewListener(r.session.Channel(), logger, 100)
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Listener stopped", "error", err)
		}
	}()

	server := &Server{
		Logger: logger.With("component", "server"),
		SMS: &retryingSender{
			next:   r.sender,
			policy: retryPolicy{MaxRetries: config.MaxRetries, Backoff: config.RetryBackoff},
			logger: logger.With("component", "retry"),
		},
		Caller:    r.caller,
		Modem:     r.session,
		Readiness: r.orch,
	}
	if j != nil {
		server.Journal = j
	}
	go watchURCs(ctx, listener.URC(), server.Journal, logger.With("component", "urc"))

	sup := &supervisor{
		session:       r.session,
		orch:          r.orch,
		interval:      config.HealthInterval,
		threshold:     config.SignalThreshold,
		autoReconnect: config.AutoReconnect,
		ready:         ready,
		logger:        logger.With("component", "supervisor"),
	}
	go sup.Run(ctx)

	httpServer := &http.Server{
		Addr:              config.BindAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err = <-serveErr:
		logger.Error("HTTP server failed", "error", err)
	}

	if _, nerr := daemon.SdNotify(false, daemon.SdNotifyStopping); nerr != nil {
		logger.Warn("Failed to notify systemd", "error", nerr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		logger.Error("Failed to gracefully shutdown server", "error", serr)
		err = errors.Join(err, serr)
	}
	return err
}

// oneShot opens the relay, initializes it and runs fn.
func oneShot(cmd *cobra.Command, fn func(ctx context.Context, r *relay, config *Config, logger *slog.Logger) error) error {
	config, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := openRelay(ctx, config, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.orch.InitializeAll(ctx); err != nil {
		return err
	}
	return fn(ctx, r, config, logger)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <number> <message>",
		Short: "Send one SMS and exit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			modeFlag, _ := cmd.Flags().GetString("mode")
			mode, err := modem.ParseMode(modeFlag)
			if err != nil {
				return err
			}
			return oneShot(cmd, func(ctx context.Context, r *relay, config *Config, logger *slog.Logger) error {
				sender := &retryingSender{
					next:   r.sender,
					policy: retryPolicy{MaxRetries: config.MaxRetries, Backoff: config.RetryBackoff},
					logger: logger,
				}
				receipt, err := sender.Send(ctx, mode, args[0], args[1])
				if err != nil {
					return err
				}
				if receipt.ModeRestoreErr != nil {
					logger.Warn("Modem left in text mode", "error", receipt.ModeRestoreErr)
				}
				return printJSON(cmd, map[string]any{
					"mode":      receipt.Mode,
					"reference": receipt.Reference,
					"alphabet":  receipt.Alphabet,
				})
			})
		},
	}
	cmd.Flags().String("mode", string(modem.ModePDU), "Submission mode (pdu, text)")
	return cmd
}

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <number>",
		Short: "Call a number, hold the call and hang up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hold, _ := cmd.Flags().GetDuration("hold")
			return oneShot(cmd, func(ctx context.Context, r *relay, _ *Config, _ *slog.Logger) error {
				return r.caller.CallAndWait(ctx, args[0], hold)
			})
		},
	}
	cmd.Flags().Duration("hold", 0, "How long to keep the call up (default: call-hold)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Bring the modem up and print its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd, func(ctx context.Context, r *relay, _ *Config, logger *slog.Logger) error {
				out := map[string]any{
					"state":      r.session.State(),
					"sms_center": r.session.SMSCenter(),
					"subsystems": r.orch.Records(),
				}
				if status, err := r.session.NetworkStatus(); err == nil {
					out["registration"] = status.String()
				}
				if rssi, ok, err := r.session.SignalQuality(); err == nil && ok {
					out["signal"] = rssi
				}
				if iccid, err := r.session.SIMIdentity(); err == nil {
					out["iccid"] = iccid
				} else {
					logger.Debug("ICCID unavailable", "error", err)
				}
				if calls, err := r.caller.Calls(); err == nil {
					out["calls"] = len(calls)
				}
				return printJSON(cmd, out)
			})
		},
	}
}
