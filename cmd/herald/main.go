package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/herald-dispatch/herald/internal/adapters"
	"github.com/herald-dispatch/herald/internal/app"
	"github.com/herald-dispatch/herald/internal/backend"
	"github.com/herald-dispatch/herald/internal/database"
	"github.com/herald-dispatch/herald/internal/dispatch"
	"github.com/herald-dispatch/herald/internal/render"
	"github.com/herald-dispatch/herald/pkg/logger"
	"github.com/herald-dispatch/herald/pkg/mail"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("herald", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	cfg, err := app.LoadConfig(paths...)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := database.Open(database.Config{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		Options:  cfg.Database.Options,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	store, err := backend.New(db)
	if err != nil {
		return err
	}

	renderer := render.NewHTMLRenderer(cfg.Notifications.TemplateRoot)

	var channelAdapters []adapters.Adapter

	mailer, err := mail.NewSMTPMailer(mail.SMTPSettings{
		Enabled:  cfg.Email.SMTP.Enabled,
		Host:     cfg.Email.SMTP.Host,
		Port:     cfg.Email.SMTP.Port,
		Username: cfg.Email.SMTP.Username,
		Password: cfg.Email.SMTP.Password,
		From:     cfg.Email.SMTP.From,
		UseTLS:   cfg.Email.SMTP.UseTLS,
		Timeout:  cfg.Email.SMTP.Timeout,
	})
	if err != nil {
		return fmt.Errorf("configure mailer: %w", err)
	}

	emailAdapter, err := adapters.NewEmailAdapter(store, renderer, mailer, adapters.EmailConfig{
		From:            cfg.Email.SMTP.From,
		BCC:             cfg.Notifications.DefaultBCC,
		BaseURLProtocol: cfg.Notifications.BaseURLProtocol,
		BaseURLDomain:   cfg.Notifications.BaseURLDomain,
	})
	if err != nil {
		return err
	}
	channelAdapters = append(channelAdapters, emailAdapter)

	inAppAdapter, err := adapters.NewInAppAdapter(store, renderer)
	if err != nil {
		return err
	}
	channelAdapters = append(channelAdapters, inAppAdapter)

	if cfg.SNS.Enabled {
		snsClient, err := adapters.NewSNSClient(ctx, cfg.SNS.Region)
		if err != nil {
			return fmt.Errorf("configure sns: %w", err)
		}

		smsAdapter, err := adapters.NewSMSAdapter(store, renderer, snsClient)
		if err != nil {
			return err
		}
		pushAdapter, err := adapters.NewPushAdapter(store, renderer, snsClient)
		if err != nil {
			return err
		}
		channelAdapters = append(channelAdapters, smsAdapter, pushAdapter)
	}

	dispatcher, err := dispatch.New(
		store,
		adapters.NewRegistry(channelAdapters...),
		dispatch.NewContextRegistry(),
		dispatch.WithSchedule(cfg.Dispatch.Schedule),
		dispatch.WithPageSize(cfg.Dispatch.PageSize),
	)
	if err != nil {
		return err
	}

	if err := dispatcher.Start(); err != nil {
		return err
	}
	log.Info("herald running")

	<-ctx.Done()
	dispatcher.Stop()
	return nil
}
