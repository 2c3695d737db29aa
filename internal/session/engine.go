package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tslm9/logostamp/internal/assets"
	"github.com/tslm9/logostamp/internal/domain"
	"github.com/tslm9/logostamp/internal/id"
)

// Operator event names carried on the EventSender.
const (
	EventUserStarted    = "user.started"
	EventBatchCompleted = "batch.completed"
)

const welcomeText = "Hello! Send all the images you want watermarked.\n" +
	"When finished, send the text: confirm\n" +
	"I will then ask for the logo (image file, photo, or static sticker) " +
	"and return every processed image.\n\n" +
	"Commands:\n" +
	"/owner - show owner\n" +
	"/cancel - cancel and clear the current batch"

// Transport carries outbound replies and results back to the user.
// Failures are logged, not retried, and never roll back committed state.
type Transport interface {
	SendText(ctx context.Context, userID int64, text string) error
	SendImage(ctx context.Context, userID int64, image []byte, caption string) error
}

// FileSource resolves a file reference from an inbound message to its bytes.
type FileSource interface {
	Download(ctx context.Context, ref domain.FileRef) ([]byte, error)
}

// Normalizer converts an image-bearing message into a canonical raster asset.
type Normalizer interface {
	Normalize(ctx context.Context, msg domain.Envelope, data []byte) (assets.Handle, error)
}

// Compositor pastes a logo asset onto a base asset and emits an output asset.
type Compositor interface {
	Composite(ctx context.Context, base, logo assets.Handle) (out assets.Handle, width, height int, err error)
}

// UsageRecorder persists per-batch accounting. Optional.
type UsageRecorder interface {
	CreateBatchLog(ctx context.Context, entry domain.BatchLog) error
}

// EventSender delivers operator events. Optional.
type EventSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Options struct {
	OwnerChatID  int64
	OwnerContact string
	Usage        UsageRecorder
	Events       EventSender
	EventsURL    string
}

// Engine is the per-user session state machine. One HandleMessage call per
// inbound message; calls for the same user serialize on the session mutex,
// calls for different users run concurrently.
type Engine struct {
	logger       *log.Logger
	store        assets.Store
	files        FileSource
	transport    Transport
	normalizer   Normalizer
	compositor   Compositor
	usage        UsageRecorder
	events       EventSender
	eventsURL    string
	ownerChatID  int64
	ownerContact string
	sessions     *registry
	metrics      *metrics
	tracer       trace.Tracer
}

func NewEngine(
	logger *log.Logger,
	store assets.Store,
	files FileSource,
	transport Transport,
	normalizer Normalizer,
	compositor Compositor,
	opts Options,
) *Engine {
	return &Engine{
		logger:       logger,
		store:        store,
		files:        files,
		transport:    transport,
		normalizer:   normalizer,
		compositor:   compositor,
		usage:        opts.Usage,
		events:       opts.Events,
		eventsURL:    opts.EventsURL,
		ownerChatID:  opts.OwnerChatID,
		ownerContact: opts.OwnerContact,
		sessions:     newRegistry(),
		metrics:      newMetrics(),
		tracer:       otel.Tracer("logostamp/session"),
	}
}

func (e *Engine) MetricsHandler() http.Handler {
	return e.metrics.Handler()
}

// HandleMessage processes one inbound message for one user. It never returns
// an error: every failure is reported to the user and contained to this
// message or the single per-image operation that produced it.
func (e *Engine) HandleMessage(ctx context.Context, userID int64, msg domain.Envelope) {
	if err := msg.Validate(); err != nil {
		e.logger.Printf("invalid message user=%d err=%v", userID, err)
		e.reply(ctx, userID, "Send an image, sticker, or photo to start.")
		return
	}

	s := e.sessions.get(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e.metrics.messagesTotal.WithLabelValues(msg.Kind).Inc()

	switch msg.Kind {
	case domain.KindCommand:
		e.handleCommand(ctx, userID, s, msg)
	case domain.KindText:
		e.handleText(ctx, userID, s, msg)
	case domain.KindPhoto, domain.KindDocument:
		e.handleImage(ctx, userID, s, msg)
	case domain.KindSticker:
		e.handleSticker(ctx, userID, s, msg)
	}
}

func (e *Engine) handleCommand(ctx context.Context, userID int64, s *state, msg domain.Envelope) {
	switch strings.ToLower(strings.TrimSpace(msg.Command)) {
	case domain.CommandStart:
		e.reply(ctx, userID, welcomeText)
		e.notifyOwnerStarted(ctx, userID)
	case domain.CommandOwner:
		if e.ownerContact == "" {
			e.reply(ctx, userID, "No owner contact is configured.")
			return
		}
		e.reply(ctx, userID, "Bot owner: "+e.ownerContact)
	case domain.CommandCancel:
		e.cancelLocked(ctx, userID, s)
	default:
		e.reply(ctx, userID, "Unknown command. Send an image to start, /owner, or /cancel.")
	}
}

func (e *Engine) handleText(ctx context.Context, userID int64, s *state, msg domain.Envelope) {
	if !domain.IsConfirm(msg.Text) {
		e.reply(ctx, userID, "I don't understand that. Send an image to start, or 'confirm' once your batch is complete.")
		return
	}

	switch s.phase {
	case PhaseCollecting:
		if len(s.batch) == 0 {
			e.reply(ctx, userID, "You haven't sent any images yet. Send images first.")
			return
		}
		s.phase = PhaseAwaitingLogo
		e.reply(ctx, userID, "Confirmed. Now send the logo (image file, photo, or static sticker).")
	case PhaseAwaitingLogo:
		e.reply(ctx, userID, "You already confirmed. Please send the logo now.")
	default:
		e.reply(ctx, userID, "You haven't sent any images yet. Send images first.")
	}
}

func (e *Engine) handleImage(ctx context.Context, userID int64, s *state, msg domain.Envelope) {
	if s.phase == PhaseAwaitingLogo {
		e.runBatch(ctx, userID, s, msg)
		return
	}

	if !msg.ImageBearing() {
		e.reply(ctx, userID, "That document is not an image. Send an image file, photo, or sticker.")
		return
	}

	data, err := e.files.Download(ctx, msg.File)
	if err != nil {
		e.logger.Printf("image download failed user=%d file=%s err=%v", userID, msg.File.ID, err)
		e.reply(ctx, userID, "Failed to save image. Try again.")
		return
	}

	h, err := e.normalizer.Normalize(ctx, msg, data)
	if err != nil {
		e.logger.Printf("image normalize failed user=%d file=%s err=%v", userID, msg.File.ID, err)
		e.reply(ctx, userID, failureText(err))
		return
	}

	if s.phase == PhaseIdle {
		s.phase = PhaseCollecting
		e.metrics.activeSessions.Inc()
	}
	s.batch = append(s.batch, h)
	e.reply(ctx, userID, fmt.Sprintf("Image saved (%d total). Send more or send 'confirm' when done.", len(s.batch)))
}

func (e *Engine) handleSticker(ctx context.Context, userID int64, s *state, msg domain.Envelope) {
	if s.phase != PhaseAwaitingLogo {
		e.reply(ctx, userID, "Stickers are used as logos. Send your base images first, then 'confirm'.")
		return
	}
	e.runBatch(ctx, userID, s, msg)
}

// runBatch processes the confirmed batch with msg as the logo. Called with
// the session lock held. A normalization or download failure for the logo
// leaves the session in AwaitingLogo so the user can send another one; once
// the composite loop starts, the run always ends in a full reset to Idle
// with every owned asset released.
func (e *Engine) runBatch(ctx context.Context, userID int64, s *state, logoMsg domain.Envelope) {
	if logoMsg.Kind == domain.KindSticker && logoMsg.Animated {
		e.reply(ctx, userID, failureText(domain.ErrAnimatedSticker))
		return
	}
	if !logoMsg.ImageBearing() {
		e.reply(ctx, userID, "That document is not an image. Send an image file, photo, or static sticker as the logo.")
		return
	}

	startedAt := time.Now()
	batchSize := len(s.batch)
	batchID := id.New()

	ctx, span := e.tracer.Start(ctx, "session.process_batch")
	span.SetAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("batch.id", batchID),
		attribute.Int("batch.size", batchSize),
	)
	defer span.End()

	logoBytes, err := e.files.Download(ctx, logoMsg.File)
	if err != nil {
		e.logger.Printf("logo download failed user=%d file=%s err=%v", userID, logoMsg.File.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "logo download failed")
		e.reply(ctx, userID, "Failed to download the logo. Try again.")
		return
	}

	logoHandle, err := e.normalizer.Normalize(ctx, logoMsg, logoBytes)
	if err != nil {
		e.logger.Printf("logo normalize failed user=%d file=%s err=%v", userID, logoMsg.File.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "logo normalize failed")
		e.reply(ctx, userID, failureText(err))
		return
	}

	e.reply(ctx, userID, fmt.Sprintf("Processing %d image(s)... This may take a moment.", batchSize))

	var (
		processed int
		skipped   int
		pixels    int64
	)

	defer func() {
		for _, h := range s.batch {
			e.store.Release(ctx, h)
		}
		e.store.Release(ctx, logoHandle)
		s.batch = nil
		if s.phase != PhaseIdle {
			e.metrics.activeSessions.Dec()
			s.phase = PhaseIdle
		}

		outcome := "completed"
		if skipped > 0 {
			outcome = "partial"
		}
		duration := time.Since(startedAt)
		e.metrics.batchesTotal.WithLabelValues(outcome).Inc()
		e.metrics.batchDuration.Observe(duration.Seconds())
		e.recordUsage(ctx, batchID, userID, processed, skipped, pixels, duration)
		e.dispatchEvent(ctx, EventBatchCompleted, map[string]any{
			"batch_id":         batchID,
			"user_id":          userID,
			"images_processed": processed,
			"images_skipped":   skipped,
			"completed_at":     time.Now().UTC(),
		})
	}()

	for i, base := range s.batch {
		out, width, height, err := e.compositor.Composite(ctx, base, logoHandle)
		if err != nil {
			skipped++
			e.metrics.imagesSkippedTotal.Inc()
			e.logger.Printf("composite failed user=%d batch=%s image=%d err=%v", userID, batchID, i+1, err)
			span.RecordError(err)
			e.reply(ctx, userID, fmt.Sprintf("Error processing image %d (unreadable). Skipping it.", i+1))
			continue
		}

		processed++
		pixels += int64(width) * int64(height)
		e.metrics.imagesProcessedTotal.Inc()

		data, err := e.store.Read(ctx, out)
		if err == nil {
			err = e.transport.SendImage(ctx, userID, data, fmt.Sprintf("Image %d / %d", i+1, batchSize))
		}
		e.store.Release(ctx, out)
		if err != nil {
			e.logger.Printf("deliver output failed user=%d batch=%s image=%d err=%v", userID, batchID, i+1, err)
			span.RecordError(err)
		}
	}

	span.SetStatus(codes.Ok, "batch processed")
	e.reply(ctx, userID, "Done. All images processed and sent. Batch cleared.")
}

func (e *Engine) cancelLocked(ctx context.Context, userID int64, s *state) {
	for _, h := range s.batch {
		e.store.Release(ctx, h)
	}
	s.batch = nil
	if s.phase != PhaseIdle {
		e.metrics.activeSessions.Dec()
		s.phase = PhaseIdle
	}
	e.reply(ctx, userID, "Cancelled and cleared your pending images.")
}

func (e *Engine) notifyOwnerStarted(ctx context.Context, userID int64) {
	startedAt := time.Now().UTC()
	if e.ownerChatID != 0 {
		text := fmt.Sprintf("User %d started the bot at %s", userID, startedAt.Format("2006-01-02 15:04:05"))
		if err := e.transport.SendText(ctx, e.ownerChatID, text); err != nil {
			e.logger.Printf("owner notification failed user=%d err=%v", userID, err)
		}
	}
	e.dispatchEvent(ctx, EventUserStarted, map[string]any{
		"user_id":    userID,
		"started_at": startedAt,
	})
}

func (e *Engine) recordUsage(ctx context.Context, batchID string, userID int64, processed, skipped int, pixels int64, duration time.Duration) {
	if e.usage == nil {
		return
	}

	computeMS := duration.Milliseconds()
	if computeMS < 1 {
		computeMS = 1
	}

	entry := domain.BatchLog{
		BatchID:         batchID,
		UserID:          userID,
		ImagesProcessed: processed,
		ImagesSkipped:   skipped,
		PixelsProcessed: pixels,
		ComputeTimeMS:   computeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.usage.CreateBatchLog(ctx, entry); err != nil {
		e.logger.Printf("batch log write failed batch=%s err=%v", batchID, err)
		return
	}

	e.metrics.pixelsProcessedTotal.Add(float64(pixels))
}

func (e *Engine) dispatchEvent(ctx context.Context, event string, payload map[string]any) {
	if e.events == nil || e.eventsURL == "" {
		return
	}
	if err := e.events.Send(ctx, e.eventsURL, event, payload); err != nil {
		e.logger.Printf("event dispatch failed event=%s err=%v", event, err)
	}
}

func (e *Engine) reply(ctx context.Context, userID int64, text string) {
	if err := e.transport.SendText(ctx, userID, text); err != nil {
		e.logger.Printf("send reply failed user=%d err=%v", userID, err)
	}
}

func failureText(err error) string {
	switch {
	case errors.Is(err, domain.ErrAnimatedSticker):
		return "Animated stickers are not supported. Send a static sticker or an image."
	case errors.Is(err, domain.ErrUnsupportedSticker):
		return "Couldn't process the sticker (webp conversion failed). The server is missing a webp codec."
	case errors.Is(err, domain.ErrNotAnImage):
		return "That document is not an image. Send an image file, photo, or sticker."
	case errors.Is(err, domain.ErrUnreadableImage):
		return "Couldn't read that image. Make sure the file is a valid image."
	default:
		return "Unexpected error while handling the image. Try again."
	}
}
