package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/slack-video-frames/internal/job/id"
	"github.com/maauso/slack-video-frames/internal/media"
	"github.com/maauso/slack-video-frames/internal/slack"
	"github.com/maauso/slack-video-frames/internal/storage"
)

// Resolution errors end processing silently.
var (
	// ErrInvalidEvent is returned when the event lacks a file or channel ID.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrFileUnavailable is returned when the file cannot be resolved.
	ErrFileUnavailable = errors.New("file unavailable")
	// ErrNotVideo is returned when the shared file is not a supported video.
	ErrNotVideo = errors.New("not a video")
)

// Processing errors end with a terminal status message.
var (
	// ErrWorkspace is returned when the temporary workspace cannot be created.
	ErrWorkspace = errors.New("workspace unavailable")
	// ErrNoDownloadURL is returned when the file has no download locator.
	ErrNoDownloadURL = errors.New("no download url")
	// ErrDownload is returned when the video cannot be downloaded.
	ErrDownload = errors.New("download failed")
	// ErrSampling is returned when the decoder fails.
	ErrSampling = errors.New("frame sampling failed")
	// ErrNoFrames is returned when sampling produced no frames.
	ErrNoFrames = errors.New("no frames extracted")
	// ErrUpload is returned when a frame cannot be uploaded.
	ErrUpload = errors.New("frame upload failed")
	// ErrPanic is returned when processing panicked.
	ErrPanic = errors.New("processing panicked")
)

// Reaction names.
const (
	ReactionProcessing = "hourglass_flowing_sand"
	ReactionComplete   = "white_check_mark"
	ReactionFailed     = "x"
)

// isSkip reports whether err ended processing before anything was posted.
func isSkip(err error) bool {
	return errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrFileUnavailable) ||
		errors.Is(err, ErrNotVideo) ||
		errors.Is(err, ErrDuplicate)
}

// Service processes file_shared events end to end.
type Service struct {
	client     slack.Client
	sampler    media.Sampler
	workspaces storage.Provider
	archiver   storage.Archiver
	deduper    Deduper
	validate   *validator.Validate
	logger     *slog.Logger

	interval        int
	maxFrames       int
	quality         int
	uploadDelay     time.Duration
	downloadTimeout time.Duration
	sampleTimeout   time.Duration
	finalTimeout    time.Duration

	// base is cancelled by Shutdown once the grace period has passed.
	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithSampling sets the requested interval, frame cap and JPEG quality.
// Non-positive values are ignored.
func WithSampling(intervalSec, maxFrames, quality int) Option {
	return func(s *Service) {
		if intervalSec > 0 {
			s.interval = intervalSec
		}
		if maxFrames > 0 {
			s.maxFrames = maxFrames
		}
		if quality > 0 {
			s.quality = quality
		}
	}
}

// WithUploadDelay sets the pause between consecutive frame uploads.
func WithUploadDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.uploadDelay = d
		}
	}
}

// WithTimeouts bounds the download and the probe plus sample steps.
func WithTimeouts(download, sample time.Duration) Option {
	return func(s *Service) {
		if download > 0 {
			s.downloadTimeout = download
		}
		if sample > 0 {
			s.sampleTimeout = sample
		}
	}
}

// WithArchiver copies every uploaded frame to a. Archive failures are not fatal.
func WithArchiver(a storage.Archiver) Option {
	return func(s *Service) {
		s.archiver = a
	}
}

// WithDeduper suppresses repeated deliveries of the same share.
func WithDeduper(d Deduper) Option {
	return func(s *Service) {
		s.deduper = d
	}
}

// NewService creates a new Service.
func NewService(client slack.Client, sampler media.Sampler, workspaces storage.Provider, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	s := &Service{
		client:          client,
		sampler:         sampler,
		workspaces:      workspaces,
		validate:        validator.New(),
		logger:          logger,
		interval:        3,
		maxFrames:       10,
		quality:         media.DefaultQuality,
		uploadDelay:     500 * time.Millisecond,
		downloadTimeout: 5 * time.Minute,
		sampleTimeout:   5 * time.Minute,
		finalTimeout:    10 * time.Second,
		base:            base,
		stop:            stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch handles ev on its own goroutine. The event outlives ctx, so a
// closed connection or finished request does not abort processing; only
// Shutdown cancels it. It satisfies slack.EventHandler.
func (s *Service) Dispatch(ctx context.Context, ev slack.FileSharedEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ectx, cancel := s.eventContext(ctx)
		defer cancel()
		_ = s.Handle(ectx, ev)
	}()
}

// eventContext keeps the values of ctx but takes its cancellation from the
// service lifetime.
func (s *Service) eventContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ectx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.base, cancel)
	return ectx, func() {
		stop()
		cancel()
	}
}

// finalContext is used for terminal status edits and reactions, which must
// still reach Slack after the event context was cancelled.
func (s *Service) finalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.finalTimeout)
}

// Shutdown waits up to grace for dispatched events to finish, then cancels
// the rest and waits until ctx is done for them to report failure and clean up.
func (s *Service) Shutdown(ctx context.Context, grace time.Duration) error {
	graceCtx, cancel := context.WithTimeout(ctx, grace)
	err := s.Wait(graceCtx)
	cancel()
	if err == nil {
		return nil
	}

	s.logger.Warn("grace period elapsed, cancelling in-flight events",
		slog.Duration("grace", grace),
	)
	s.stop()
	return s.Wait(ctx)
}

// Wait blocks until every dispatched event has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight events: %w", ctx.Err())
	}
}

// run carries the per-event state.
type run struct {
	logger  *slog.Logger
	event   slack.FileSharedEvent
	file    *slack.File
	claim   string
	shareTS string
	thread  string
	status  *StatusMessage
}

// Handle processes one event synchronously and returns how it ended.
// Skips (invalid event, unresolvable file, non-video, duplicate) are silent.
// Any other error has already been reported in the thread.
func (s *Service) Handle(ctx context.Context, ev slack.FileSharedEvent) (err error) {
	start := time.Now()
	eventsInFlight.Inc()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
			s.logger.Error("event handler panicked",
				slog.String("file_id", ev.FileID),
				slog.String("error", err.Error()),
			)
		}
		eventsInFlight.Dec()
		status := outcome(err)
		eventsProcessedTotal.WithLabelValues(status).Inc()
		eventProcessingDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	r := &run{
		event: ev,
		logger: s.logger.With(
			slog.String("run_id", id.FromEvent(ev.EventID)),
			slog.String("file_id", ev.FileID),
			slog.String("channel_id", ev.ChannelID),
		),
	}

	if err := s.resolve(ctx, r); err != nil {
		r.logger.Info("skipping event", slog.String("reason", err.Error()))
		s.release(ctx, r, err)
		return err
	}

	err = s.process(ctx, r)
	s.release(ctx, r, err)
	return err
}

// resolve validates the event and fetches the file descriptor.
func (s *Service) resolve(ctx context.Context, r *run) error {
	if err := s.validate.Struct(r.event); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	if s.deduper != nil {
		key := dedupKey(r.event.FileID, r.event.ChannelID)
		first, err := s.deduper.Claim(ctx, key)
		if err != nil {
			r.logger.Warn("dedup check failed, processing anyway", slog.String("error", err.Error()))
		} else if !first {
			return ErrDuplicate
		} else {
			r.claim = key
		}
	}

	file, err := s.client.FileInfo(ctx, r.event.FileID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileUnavailable, err)
	}
	if file == nil {
		return fmt.Errorf("%w: empty file descriptor", ErrFileUnavailable)
	}
	if !IsVideo(file) {
		return fmt.Errorf("%w: %s (%s)", ErrNotVideo, file.Name, file.Mimetype)
	}

	r.file = file
	if share, ok := file.ShareIn(r.event.ChannelID); ok {
		r.shareTS = share.TS
		r.thread = share.ThreadRoot()
	}
	r.logger = r.logger.With(slog.String("file_name", file.Name))
	return nil
}

// release returns the dedup claim after a failure, so that a redelivery of
// the same share is processed again. Non-video skips keep their claim.
func (s *Service) release(ctx context.Context, r *run, err error) {
	if r.claim == "" || err == nil || errors.Is(err, ErrNotVideo) {
		return
	}
	rctx, cancel := s.finalContext(ctx)
	defer cancel()
	if rerr := s.deduper.Release(rctx, r.claim); rerr != nil {
		r.logger.Warn("failed to release dedup claim", slog.String("error", rerr.Error()))
	}
}

// process takes a resolved video from acknowledgement through cleanup.
func (s *Service) process(ctx context.Context, r *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
		if err != nil {
			r.logger.Error("video processing failed", slog.String("error", err.Error()))
			s.fail(ctx, r, err)
		}
	}()

	r.logger.Info("processing video", slog.String("thread_ts", r.thread))

	// Acknowledge in the channel.
	if r.shareTS != "" {
		s.bestEffort(r.logger, "add processing reaction", func() error {
			return s.client.AddReaction(ctx, r.event.ChannelID, r.shareTS, ReactionProcessing)
		})
	}
	text := StartedText(r.file.Name)
	ts, err := s.client.PostMessage(ctx, r.event.ChannelID, r.thread, text)
	if err != nil {
		// Processing continues; only the status updates are lost.
		r.logger.Warn("failed to post status message", slog.String("error", err.Error()))
	} else {
		r.status = NewStatusMessage(r.event.ChannelID, ts, text)
	}

	ws, err := s.workspaces.Acquire(ctx, r.event.FileID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWorkspace, err)
	}
	// Released on every path from here on.
	defer func() {
		if cerr := ws.Cleanup(); cerr != nil {
			r.logger.Warn("failed to clean up workspace",
				slog.String("dir", ws.Dir()),
				slog.String("error", cerr.Error()),
			)
		}
	}()

	videoPath, err := s.download(ctx, r, ws)
	if err != nil {
		return err
	}

	frames, policy, err := s.sample(ctx, r, videoPath, ws.FramesDir())
	if err != nil {
		return err
	}

	s.updateStatus(ctx, r, PhaseExtracted, ExtractedText(len(frames), policy.EffectiveInterval))

	if err := s.upload(ctx, r, frames); err != nil {
		return err
	}

	fctx, cancel := s.finalContext(ctx)
	defer cancel()
	s.updateStatus(fctx, r, PhaseComplete, CompleteText(len(frames)))
	if r.shareTS != "" {
		s.bestEffort(r.logger, "remove processing reaction", func() error {
			return s.client.RemoveReaction(fctx, r.event.ChannelID, r.shareTS, ReactionProcessing)
		})
		s.bestEffort(r.logger, "add complete reaction", func() error {
			return s.client.AddReaction(fctx, r.event.ChannelID, r.shareTS, ReactionComplete)
		})
	}

	r.logger.Info("video processed", slog.Int("frames", len(frames)))
	return nil
}

func (s *Service) download(ctx context.Context, r *run, ws storage.Workspace) (string, error) {
	locator := r.file.DownloadURL()
	if locator == "" {
		return "", ErrNoDownloadURL
	}

	dctx, cancel := context.WithTimeout(ctx, s.downloadTimeout)
	defer cancel()

	videoPath := filepath.Join(ws.Dir(), videoFilename(r.file))
	if err := s.client.Download(dctx, locator, videoPath); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}

	r.logger.Debug("video downloaded", slog.String("path", videoPath))
	return videoPath, nil
}

func (s *Service) sample(ctx context.Context, r *run, videoPath, framesDir string) ([]media.Frame, media.Policy, error) {
	sctx, cancel := context.WithTimeout(ctx, s.sampleTimeout)
	defer cancel()

	duration, err := s.sampler.Probe(sctx, videoPath)
	if err != nil {
		// Unknown duration falls back to the requested interval.
		r.logger.Warn("failed to probe duration", slog.String("error", err.Error()))
		duration = 0
	}

	policy, err := media.NewPolicy(duration, s.interval, s.maxFrames)
	if err != nil {
		return nil, media.Policy{}, fmt.Errorf("%w: %w", ErrSampling, err)
	}
	policy.Quality = s.quality

	r.logger.Info("sampling frames",
		slog.Float64("duration_sec", duration),
		slog.Int("interval_sec", policy.EffectiveInterval),
		slog.Bool("widened", policy.Widened()),
		slog.Int("max_frames", policy.MaxFrames),
	)

	frames, err := s.sampler.Sample(sctx, videoPath, framesDir, policy)
	if err != nil {
		return nil, policy, fmt.Errorf("%w: %w", ErrSampling, err)
	}
	if len(frames) == 0 {
		return nil, policy, ErrNoFrames
	}
	return frames, policy, nil
}

func (s *Service) upload(ctx context.Context, r *run, frames []media.Frame) error {
	total := len(frames)
	for i, f := range frames {
		if i > 0 && s.uploadDelay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrUpload, ctx.Err())
			case <-time.After(s.uploadDelay):
			}
		}

		err := s.client.UploadFile(ctx, slack.UploadParams{
			Path:      f.Path,
			Filename:  filepath.Base(f.Path),
			Title:     fmt.Sprintf("Frame %d", f.Index),
			ChannelID: r.event.ChannelID,
			ThreadTS:  r.thread,
			Comment:   Caption(f.Index, total, f.OffsetSec),
		})
		if err != nil {
			return fmt.Errorf("%w: frame %d/%d: %w", ErrUpload, f.Index, total, err)
		}
		framesUploadedTotal.Inc()

		s.archive(ctx, r, f)
	}
	return nil
}

// archive copies an uploaded frame to the archive, if one is configured.
func (s *Service) archive(ctx context.Context, r *run, f media.Frame) {
	if s.archiver == nil {
		return
	}

	fh, err := os.Open(f.Path)
	if err != nil {
		r.logger.Warn("failed to open frame for archive", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = fh.Close() }()

	key := r.file.ID + "/" + filepath.Base(f.Path)
	url, err := s.archiver.Archive(ctx, key, fh)
	if err != nil {
		r.logger.Warn("failed to archive frame",
			slog.Int("frame", f.Index),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Debug("frame archived", slog.Int("frame", f.Index), slog.String("url", url))
}

// fail leaves the status message in a terminal state and marks the share.
func (s *Service) fail(ctx context.Context, r *run, cause error) {
	ctx, cancel := s.finalContext(ctx)
	defer cancel()

	s.updateStatus(ctx, r, PhaseFailed, FailureText(cause))
	if r.shareTS != "" {
		s.bestEffort(r.logger, "remove processing reaction", func() error {
			return s.client.RemoveReaction(ctx, r.event.ChannelID, r.shareTS, ReactionProcessing)
		})
		s.bestEffort(r.logger, "add failure reaction", func() error {
			return s.client.AddReaction(ctx, r.event.ChannelID, r.shareTS, ReactionFailed)
		})
	}
}

// updateStatus moves the status message to phase and edits it in place.
// Update failures are logged; they never stop processing.
func (s *Service) updateStatus(ctx context.Context, r *run, phase Phase, text string) {
	if r.status == nil || r.status.IsTerminal() {
		return
	}
	if err := r.status.TransitionTo(phase, text); err != nil {
		r.logger.Warn("status transition rejected", slog.String("error", err.Error()))
		return
	}
	if err := s.client.UpdateMessage(ctx, r.status.Channel, r.status.TS, text); err != nil {
		r.logger.Warn("failed to update status message",
			slog.String("phase", string(phase)),
			slog.String("error", err.Error()),
		)
	}
}

// bestEffort runs a non-fatal platform call. Failures are logged at debug
// level and discarded.
func (s *Service) bestEffort(logger *slog.Logger, action string, fn func() error) {
	if err := fn(); err != nil {
		logger.Debug("best-effort action failed",
			slog.String("action", action),
			slog.Bool("noop", slack.IsReactionNoop(err)),
			slog.String("error", err.Error()),
		)
	}
}
