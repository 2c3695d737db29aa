package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/tslm9/logostamp/internal/assets"
	"github.com/tslm9/logostamp/internal/domain"
)

type fakeTransport struct {
	mu       sync.Mutex
	texts    []string
	captions []string
}

func (t *fakeTransport) SendText(_ context.Context, _ int64, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts = append(t.texts, text)
	return nil
}

func (t *fakeTransport) SendImage(_ context.Context, _ int64, _ []byte, caption string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.captions = append(t.captions, caption)
	return nil
}

func (t *fakeTransport) textContaining(fragment string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, text := range t.texts {
		if strings.Contains(text, fragment) {
			return true
		}
	}
	return false
}

type fakeFiles struct{}

func (fakeFiles) Download(_ context.Context, ref domain.FileRef) ([]byte, error) {
	if strings.HasPrefix(ref.ID, "dlfail-") {
		return nil, errors.New("download failed")
	}
	return []byte("bytes:" + ref.ID), nil
}

type fakeNormalizer struct {
	store assets.Store
}

func (n fakeNormalizer) Normalize(ctx context.Context, msg domain.Envelope, data []byte) (assets.Handle, error) {
	if msg.Kind == domain.KindSticker && msg.Animated {
		return "", domain.ErrAnimatedSticker
	}
	if strings.HasPrefix(msg.File.ID, "badlogo-") {
		return "", domain.ErrUnsupportedSticker
	}
	h := n.store.Allocate(".png")
	if err := n.store.Write(ctx, h, data); err != nil {
		return "", err
	}
	return h, nil
}

type fakeCompositor struct {
	store  assets.Store
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
}

func (c *fakeCompositor) Composite(ctx context.Context, base, logo assets.Handle) (assets.Handle, int, int, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()

	if c.failOn[call] {
		return "", 0, 0, fmt.Errorf("decode base: %w", domain.ErrUnreadableImage)
	}

	out := c.store.Allocate(".jpg")
	if err := c.store.Write(ctx, out, []byte("output")); err != nil {
		return "", 0, 0, err
	}
	return out, 100, 50, nil
}

type testRig struct {
	engine     *Engine
	store      *assets.DiskStore
	transport  *fakeTransport
	compositor *fakeCompositor
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	store, err := assets.NewDiskStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("new disk store: %v", err)
	}

	transport := &fakeTransport{}
	compositor := &fakeCompositor{store: store, failOn: map[int]bool{}}
	engine := NewEngine(logger, store, fakeFiles{}, transport, fakeNormalizer{store: store}, compositor, Options{})

	return &testRig{engine: engine, store: store, transport: transport, compositor: compositor}
}

func photoMsg(fileID string) domain.Envelope {
	return domain.Envelope{Kind: domain.KindPhoto, File: domain.FileRef{ID: fileID}}
}

func textMsg(text string) domain.Envelope {
	return domain.Envelope{Kind: domain.KindText, Text: text}
}

func (r *testRig) session(userID int64) *state {
	return r.engine.sessions.get(userID)
}

func assertGone(t *testing.T, handles []assets.Handle) {
	t.Helper()
	for _, h := range handles {
		if _, err := os.Stat(string(h)); !os.IsNotExist(err) {
			t.Fatalf("expected asset %s to be released, stat err=%v", h, err)
		}
	}
}

func TestImagesThenConfirmTransitionsToAwaitingLogo(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	const user = int64(7)

	for i := 0; i < 3; i++ {
		rig.engine.HandleMessage(ctx, user, photoMsg(fmt.Sprintf("img-%d", i)))
	}

	s := rig.session(user)
	if s.phase != PhaseCollecting {
		t.Fatalf("expected collecting phase, got %s", s.phase)
	}
	if len(s.batch) != 3 {
		t.Fatalf("expected 3 stored assets, got %d", len(s.batch))
	}
	if !rig.transport.textContaining("Image saved (3 total)") {
		t.Fatalf("expected saved-count acknowledgement, got %v", rig.transport.texts)
	}

	rig.engine.HandleMessage(ctx, user, textMsg("  CONFIRM "))
	if s.phase != PhaseAwaitingLogo {
		t.Fatalf("expected awaiting-logo phase, got %s", s.phase)
	}
	if !rig.transport.textContaining("Now send the logo") {
		t.Fatalf("expected logo prompt, got %v", rig.transport.texts)
	}
}

func TestConfirmWithoutImagesIsRejected(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	const user = int64(7)

	rig.engine.HandleMessage(ctx, user, textMsg("confirm"))

	s := rig.session(user)
	if s.phase != PhaseIdle {
		t.Fatalf("expected phase to stay idle, got %s", s.phase)
	}
	if !rig.transport.textContaining("haven't sent any images") {
		t.Fatalf("expected rejection reply, got %v", rig.transport.texts)
	}
}

func TestStickerBeforeConfirmIsInformational(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	const user = int64(7)

	rig.engine.HandleMessage(ctx, user, photoMsg("img-0"))
	rig.engine.HandleMessage(ctx, user, domain.Envelope{Kind: domain.KindSticker, File: domain.FileRef{ID: "st-1"}})

	s := rig.session(user)
	if s.phase != PhaseCollecting {
		t.Fatalf("expected collecting phase, got %s", s.phase)
	}
	if len(s.batch) != 1 {
		t.Fatalf("expected batch untouched, got %d assets", len(s.batch))
	}
	if !rig.transport.textContaining("Stickers are used as logos") {
		t.Fatalf("expected confirmation-required reply, got %v", rig.transport.texts)
	}
}

func TestCancelReleasesAssetsInAnyPhase(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	const user = int64(7)

	rig.engine.HandleMessage(ctx, user, photoMsg("img-0"))
	rig.engine.HandleMessage(ctx, user, photoMsg("img-1"))
	rig.engine.HandleMessage(ctx, user, textMsg("confirm"))

	s := rig.session(user)
	handles := append([]assets.Handle(nil), s.batch...)

	rig.engine.HandleMessage(ctx, user, domain.Envelope{Kind: domain.KindCommand, Command: domain.CommandCancel})

	if s.phase != PhaseIdle {
		t.Fatalf("expected idle phase after cancel, got %s", s.phase)
	}
	if len(s.batch) != 0 {
		t.Fatalf("expected empty batch after cancel, got %d", len(s.batch))
	}
	assertGone(t, handles)
	if !rig.transport.textContaining("Cancelled") {
		t.Fatalf("expected cancel acknowledgement, got %v", rig.transport.texts)
	}
}

func TestBatchSkipsFailedImageAndContinues(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	const user = int64(7)

	for i := 0; i < 3; i++ {
		rig.engine.HandleMessage(ctx, user, photoMsg(fmt.Sprintf("img-%d", i)))
	}
	rig.engine.HandleMessage(ctx, user, textMsg("confirm"))

	s := rig.session(user)
	handles := append([]assets.Handle(nil), s.batch...)

	rig.compositor.failOn[2] = true
	rig.engine.HandleMessage(ctx, user, photoMsg("logo-1"))

	if got := rig.transport.captions; len(got) != 2 || got[0] != "Image 1 / 3" || got[1] != "Image 3 / 3" {
		t.Fatalf("expected images 1 and 3 delivered in order, got %v", got)
	}
	if !rig.transport.textContaining("Skipping it") {
		t.Fatalf("expected one skip notification, got %v", rig.transport.texts)
	}
	if !rig.transport.textContaining("Done.") {
		t.Fatalf("expected batch epilogue, got %v", rig.transport.texts)
	}

	if s.phase != PhaseIdle {
		t.Fatalf("expected full reset to idle, got %s", s.phase)
	}
	if len(s.batch) != 0 {
		t.Fatalf("expected batch cleared, got %d", len(s.batch))
	}
	assertGone(t, handles)
}

func TestImageWhileAwaitingLogoRunsBatchAsLogo(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	const user = int64(7)

	rig.engine.HandleMessage(ctx, user, photoMsg("img-0"))
	rig.engine.HandleMessage(ctx, user, textMsg("confirm"))
	rig.engine.HandleMessage(ctx, user, photoMsg("logo-1"))

	if len(rig.transport.captions) != 1 {
		t.Fatalf("expected one delivered image, got %v", rig.transport.captions)
	}
	if rig.session(user).phase != PhaseIdle {
		t.Fatalf("expected idle after batch, got %s", rig.session(user).phase)
	}
}

func TestAnimatedStickerWhileAwaitingLogoLeavesBatchIntact(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	const user = int64(7)

	rig.engine.HandleMessage(ctx, user, photoMsg("img-0"))
	rig.engine.HandleMessage(ctx, user, textMsg("confirm"))
	rig.engine.HandleMessage(ctx, user, domain.Envelope{
		Kind:     domain.KindSticker,
		Animated: true,
		File:     domain.FileRef{ID: "st-anim"},
	})

	s := rig.session(user)
	if s.phase != PhaseAwaitingLogo {
		t.Fatalf("expected session to stay awaiting logo, got %s", s.phase)
	}
	if len(s.batch) != 1 {
		t.Fatalf("expected batch intact, got %d", len(s.batch))
	}
	if !rig.transport.textContaining("Animated stickers are not supported") {
		t.Fatalf("expected animated-sticker reply, got %v", rig.transport.texts)
	}
}

func TestLogoNormalizeFailureKeepsAwaitingLogo(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	const user = int64(7)

	rig.engine.HandleMessage(ctx, user, photoMsg("img-0"))
	rig.engine.HandleMessage(ctx, user, textMsg("confirm"))
	rig.engine.HandleMessage(ctx, user, domain.Envelope{Kind: domain.KindSticker, File: domain.FileRef{ID: "badlogo-1"}})

	s := rig.session(user)
	if s.phase != PhaseAwaitingLogo {
		t.Fatalf("expected session to stay awaiting logo, got %s", s.phase)
	}
	if len(s.batch) != 1 {
		t.Fatalf("expected batch intact, got %d", len(s.batch))
	}
	if !rig.transport.textContaining("missing a webp codec") {
		t.Fatalf("expected codec failure reply, got %v", rig.transport.texts)
	}
	if len(rig.transport.captions) != 0 {
		t.Fatalf("expected no deliveries, got %v", rig.transport.captions)
	}
}

func TestDownloadFailureLeavesSessionUnaffected(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	const user = int64(7)

	rig.engine.HandleMessage(ctx, user, photoMsg("img-0"))
	rig.engine.HandleMessage(ctx, user, photoMsg("dlfail-1"))

	s := rig.session(user)
	if len(s.batch) != 1 {
		t.Fatalf("expected only the first image stored, got %d", len(s.batch))
	}
	if s.phase != PhaseCollecting {
		t.Fatalf("expected collecting phase, got %s", s.phase)
	}
	if !rig.transport.textContaining("Failed to save image") {
		t.Fatalf("expected download failure reply, got %v", rig.transport.texts)
	}
}

func TestUsersAreIndependent(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for user := int64(1); user <= 4; user++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				rig.engine.HandleMessage(ctx, user, photoMsg(fmt.Sprintf("u%d-img-%d", user, i)))
			}
			rig.engine.HandleMessage(ctx, user, textMsg("confirm"))
		}(user)
	}
	wg.Wait()

	for user := int64(1); user <= 4; user++ {
		s := rig.session(user)
		if s.phase != PhaseAwaitingLogo {
			t.Fatalf("user %d: expected awaiting logo, got %s", user, s.phase)
		}
		if len(s.batch) != 5 {
			t.Fatalf("user %d: expected 5 assets, got %d", user, len(s.batch))
		}
	}
}

func TestBatchLogRecordsOutcome(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	const user = int64(7)

	var recorded []domain.BatchLog
	rig.engine.usage = usageFunc(func(_ context.Context, entry domain.BatchLog) error {
		recorded = append(recorded, entry)
		return nil
	})

	rig.engine.HandleMessage(ctx, user, photoMsg("img-0"))
	rig.engine.HandleMessage(ctx, user, photoMsg("img-1"))
	rig.engine.HandleMessage(ctx, user, textMsg("confirm"))
	rig.compositor.failOn[1] = true
	rig.engine.HandleMessage(ctx, user, photoMsg("logo-1"))

	if len(recorded) != 1 {
		t.Fatalf("expected one batch log, got %d", len(recorded))
	}
	entry := recorded[0]
	if entry.UserID != user {
		t.Fatalf("expected user %d, got %d", user, entry.UserID)
	}
	if entry.ImagesProcessed != 1 || entry.ImagesSkipped != 1 {
		t.Fatalf("expected 1 processed / 1 skipped, got %d / %d", entry.ImagesProcessed, entry.ImagesSkipped)
	}
	if entry.PixelsProcessed != 100*50 {
		t.Fatalf("expected 5000 pixels, got %d", entry.PixelsProcessed)
	}
	if entry.ComputeTimeMS < 1 {
		t.Fatalf("expected compute time of at least 1ms, got %d", entry.ComputeTimeMS)
	}
}

type usageFunc func(ctx context.Context, entry domain.BatchLog) error

func (f usageFunc) CreateBatchLog(ctx context.Context, entry domain.BatchLog) error {
	return f(ctx, entry)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (e *fakeEvents) Send(_ context.Context, _ string, event string, _ any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func TestOperatorEventsDispatchedByName(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	const user = int64(7)

	events := &fakeEvents{}
	rig.engine.events = events
	rig.engine.eventsURL = "https://example.test/events"

	rig.engine.HandleMessage(ctx, user, domain.Envelope{Kind: domain.KindCommand, Command: domain.CommandStart})
	rig.engine.HandleMessage(ctx, user, photoMsg("img-0"))
	rig.engine.HandleMessage(ctx, user, textMsg("confirm"))
	rig.engine.HandleMessage(ctx, user, photoMsg("logo-1"))

	want := []string{EventUserStarted, EventBatchCompleted}
	if len(events.events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, events.events)
	}
	for i := range want {
		if events.events[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, events.events)
		}
	}
}
