package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-account"
	"github.com/goliatone/go-account/activitymap"
	"github.com/goliatone/go-account/config"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

func main() {
	flags := config.Flags("accountd")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(config.WithFlags(flags))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Server.Debug {
		level = slog.LevelDebug
	}

	lgr := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := run(context.Background(), cfg, lgr); err != nil {
		lgr.Error("accountd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, lgr *slog.Logger) error {
	logger := account.NewSlogLogger(lgr)

	if cfg.Server.Debug {
		logger.Debug("configuration:\n%s", print.MaybePrettyJSON(cfg))
	}

	repo, err := account.Connect(ctx, cfg.Database.Dialect, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer repo.Close()

	hasher, err := cfg.Credentials.Hasher()
	if err != nil {
		return err
	}

	tokens, err := account.NewTokenService(cfg.Auth.TokenConfig(),
		account.WithTokenLogger(logger),
	)
	if err != nil {
		return err
	}

	activity := activitymap.SlogSink(lgr.With("component", "activity"))

	sender, err := mailSender(cfg.Mail, logger)
	if err != nil {
		return err
	}

	queue := account.NewAsyncMailer(sender,
		account.WithMailWorkers(cfg.Mail.Workers),
		account.WithMailQueueSize(cfg.Mail.QueueSize),
		account.WithMailTimeout(cfg.Mail.Timeout),
		account.WithMailLogger(logger),
		account.WithMailActivitySink(activity),
	)
	defer queue.Close()

	mailer, err := account.NewAccountMailer(cfg.Mail.MailConfig(), nil, queue)
	if err != nil {
		return err
	}

	locker, closeLocker, err := emailLocker(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	service := account.NewAccountService(repo.Users(), tokens,
		account.WithServiceHasher(hasher),
		account.WithServiceMailer(mailer),
		account.WithServiceEmailLocker(locker),
		account.WithServiceLogger(logger),
		account.WithServiceActivitySink(activity),
	)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:          true,
			DisableStartupMessage: !cfg.Server.Debug,
		}))
	})

	account.RegisterAccountRoutes(srv.Router(), service,
		account.WithControllerDebug(cfg.Server.Debug),
		account.WithControllerLogger(logger),
		account.WithControllerSessionTokens(tokens),
	)

	errc := make(chan error, 1)
	go func() {
		logger.Info("accountd listening on %s", cfg.Server.Address)
		if err := srv.Serve(cfg.Server.Address); err != nil {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case sig := <-exitSignal():
		logger.Info("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func mailSender(cfg config.Mail, logger account.Logger) (account.MailSender, error) {
	if cfg.Driver == config.MailDriverSMTP {
		return account.NewSMTPSender(cfg.SMTPConfig())
	}
	return account.LogMailSender{Logger: logger}, nil
}

func emailLocker(ctx context.Context, cfg config.Redis, logger account.Logger) (account.EmailLocker, func(), error) {
	if !cfg.Enabled() {
		return account.NewLocalEmailLocker(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	locker := account.NewRedisEmailLocker(client,
		account.WithLockTTL(cfg.LockTTL),
		account.WithLockWait(cfg.LockWait),
		account.WithLockKeyPrefix(cfg.KeyPrefix),
		account.WithLockLogger(logger),
	)

	return locker, func() { client.Close() }, nil
}

func exitSignal() <-chan os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return ch
}
