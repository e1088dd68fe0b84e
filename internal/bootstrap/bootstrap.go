// Package bootstrap provides dependency initialization for the slack-video-frames service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maauso/slack-video-frames/internal/config"
	"github.com/maauso/slack-video-frames/internal/job"
	"github.com/maauso/slack-video-frames/internal/media"
	"github.com/maauso/slack-video-frames/internal/slack"
	"github.com/maauso/slack-video-frames/internal/storage"
)

// Dependencies holds all initialized dependencies for the process.
type Dependencies struct {
	// Service handles file_shared events.
	Service *job.Service
	// Listener receives events in socket mode; nil in http mode.
	Listener *slack.SocketListener
	// Events serves POST /slack/events in http mode; nil in socket mode.
	Events http.Handler

	closers []func() error
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize Slack Web API client
	client, err := slack.NewClient(cfg.SlackBotToken,
		slack.WithBaseURL(cfg.SlackAPIURL),
		slack.WithMaxDownloadBytes(cfg.MaxDownloadBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("create Slack client: %w", err)
	}

	// Initialize workspaces and frame sampler
	workspaces, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", workspaces.TempDir()),
	)
	sampler := media.NewFFmpegSampler(cfg.FFmpegPath, cfg.FFprobePath)

	opts := []job.Option{
		job.WithSampling(cfg.FrameInterval, cfg.MaxFrames, cfg.FrameQuality),
		job.WithUploadDelay(cfg.UploadDelay()),
		job.WithTimeouts(cfg.DownloadTimeout(), cfg.SampleTimeout()),
	}

	archiver, err := initArchiver(cfg, logger)
	if err != nil {
		return nil, err
	}
	if archiver != nil {
		opts = append(opts, job.WithArchiver(archiver))
	}

	deduper, err := deps.initDeduper(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if deduper != nil {
		opts = append(opts, job.WithDeduper(deduper))
	}

	// Initialize the event handler service
	deps.Service = job.NewService(client, sampler, workspaces, logger, opts...)

	if err := deps.initDelivery(cfg, logger); err != nil {
		_ = deps.Close()
		return nil, err
	}

	return deps, nil
}

// Close releases connections opened during initialization.
func (d *Dependencies) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initArchiver creates the S3 frame archive when configured.
func initArchiver(cfg *config.Config, logger *slog.Logger) (storage.Archiver, error) {
	if !cfg.S3Enabled() {
		return nil, nil
	}

	s3Cfg := storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	}
	s3Store, err := storage.NewS3Storage(s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("create S3 storage: %w", err)
	}
	logger.Info("S3 frame archive configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return s3Store, nil
}

// initDeduper picks the duplicate suppression backend.
func (d *Dependencies) initDeduper(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Deduper, error) {
	if !cfg.DedupEnabled() {
		return nil, nil
	}

	if cfg.RedisEnabled() {
		rd, err := job.NewRedisDeduper(ctx, job.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.DedupTTL())
		if err != nil {
			return nil, fmt.Errorf("create Redis deduper: %w", err)
		}
		d.closers = append(d.closers, rd.Close)
		logger.Info("redis dedup configured",
			slog.String("addr", cfg.RedisAddr),
			slog.Duration("ttl", cfg.DedupTTL()),
		)
		return rd, nil
	}

	logger.Info("in-memory dedup configured", slog.Duration("ttl", cfg.DedupTTL()))
	return job.NewMemoryDeduper(cfg.DedupTTL()), nil
}

// initDelivery wires the configured event delivery mode to the service.
func (d *Dependencies) initDelivery(cfg *config.Config, logger *slog.Logger) error {
	switch cfg.SlackEventMode {
	case config.EventModeHTTP:
		events, err := slack.NewEventsHandler(cfg.SlackSigningSecret, d.Service.Dispatch, logger)
		if err != nil {
			return fmt.Errorf("create events handler: %w", err)
		}
		d.Events = events
		logger.Info("slack events api delivery configured", slog.String("path", "/slack/events"))
	default:
		appClient, err := slack.NewClient(cfg.SlackAppToken, slack.WithBaseURL(cfg.SlackAPIURL))
		if err != nil {
			return fmt.Errorf("create Slack app client: %w", err)
		}
		listener, err := slack.NewSocketListener(appClient, d.Service.Dispatch, slack.WithSocketLogger(logger))
		if err != nil {
			return fmt.Errorf("create socket listener: %w", err)
		}
		d.Listener = listener
		logger.Info("slack socket mode delivery configured")
	}
	return nil
}
