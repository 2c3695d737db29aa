package telegram

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tslm9/logostamp/internal/domain"
)

// Handler consumes one classified inbound message.
type Handler interface {
	HandleMessage(ctx context.Context, userID int64, msg domain.Envelope)
}

// Poller drives the getUpdates loop and dispatches messages. Each chat gets
// its own pending list and drain goroutine so messages from one user are
// handled in arrival order while distinct users proceed in parallel. The
// pending list is unbounded: enqueueing never blocks the poll loop, so one
// slow chat cannot stall dispatch for the others.
type Poller struct {
	client  *Client
	handler Handler
	logger  *log.Logger

	pollSeconds int

	mu     sync.Mutex
	queues map[int64]*chatQueue
	wg     sync.WaitGroup
}

type chatQueue struct {
	mu       sync.Mutex
	pending  []*Message
	draining bool
}

func NewPoller(client *Client, handler Handler, logger *log.Logger, pollSeconds int) *Poller {
	if pollSeconds <= 0 {
		pollSeconds = 30
	}
	return &Poller{
		client:      client,
		handler:     handler,
		logger:      logger,
		pollSeconds: pollSeconds,
		queues:      make(map[int64]*chatQueue),
	}
}

// Run polls until ctx is cancelled, then drains the per-chat queues.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64

	for {
		if err := ctx.Err(); err != nil {
			break
		}

		updates, err := p.client.GetUpdates(ctx, offset, p.pollSeconds)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.Printf("poll failed err=%v", err)
			select {
			case <-ctx.Done():
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.Message == nil {
				continue
			}
			p.dispatch(ctx, update.Message)
		}
	}

	p.wg.Wait()
	return ctx.Err()
}

// dispatch appends msg to its chat's pending list and starts a drain
// goroutine if none is running. It never blocks.
func (p *Poller) dispatch(ctx context.Context, msg *Message) {
	p.mu.Lock()
	queue, ok := p.queues[msg.Chat.ID]
	if !ok {
		queue = &chatQueue{}
		p.queues[msg.Chat.ID] = queue
	}
	p.mu.Unlock()

	queue.mu.Lock()
	queue.pending = append(queue.pending, msg)
	if !queue.draining {
		queue.draining = true
		p.wg.Add(1)
		go p.drain(ctx, msg.Chat.ID, queue)
	}
	queue.mu.Unlock()
}

func (p *Poller) drain(ctx context.Context, chatID int64, queue *chatQueue) {
	defer p.wg.Done()
	for {
		queue.mu.Lock()
		if len(queue.pending) == 0 || ctx.Err() != nil {
			queue.pending = nil
			queue.draining = false
			queue.mu.Unlock()
			return
		}
		msg := queue.pending[0]
		queue.pending = queue.pending[1:]
		queue.mu.Unlock()

		p.handler.HandleMessage(ctx, chatID, EnvelopeFromMessage(msg))
	}
}

// EnvelopeFromMessage classifies a raw Bot API message. Photos resolve to
// the largest available size.
func EnvelopeFromMessage(msg *Message) domain.Envelope {
	switch {
	case len(msg.Photo) > 0:
		best := msg.Photo[0]
		for _, size := range msg.Photo[1:] {
			if size.Width*size.Height > best.Width*best.Height {
				best = size
			}
		}
		return domain.Envelope{
			Kind: domain.KindPhoto,
			File: domain.FileRef{ID: best.FileID},
		}
	case msg.Document != nil:
		return domain.Envelope{
			Kind: domain.KindDocument,
			File: domain.FileRef{
				ID:       msg.Document.FileID,
				Name:     msg.Document.FileName,
				MIMEType: msg.Document.MIMEType,
			},
		}
	case msg.Sticker != nil:
		return domain.Envelope{
			Kind:     domain.KindSticker,
			File:     domain.FileRef{ID: msg.Sticker.FileID},
			Animated: msg.Sticker.IsAnimated || msg.Sticker.IsVideo,
		}
	case strings.HasPrefix(strings.TrimSpace(msg.Text), "/"):
		return domain.Envelope{
			Kind:    domain.KindCommand,
			Command: commandName(msg.Text),
			Text:    msg.Text,
		}
	default:
		return domain.Envelope{
			Kind: domain.KindText,
			Text: msg.Text,
		}
	}
}

// commandName extracts "start" from "/start", "/start@SomeBot", or
// "/start arg".
func commandName(text string) string {
	text = strings.TrimPrefix(strings.TrimSpace(text), "/")
	if i := strings.IndexAny(text, " @"); i >= 0 {
		text = text[:i]
	}
	return strings.ToLower(text)
}
