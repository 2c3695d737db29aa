package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tslm9/logostamp/internal/assets"
	"github.com/tslm9/logostamp/internal/domain"
)

const fallbackTimeout = 15 * time.Second

// Normalizer converts an incoming photo, image document, or static sticker
// into a canonical RGBA PNG asset so downstream code never branches on the
// source encoding.
type Normalizer struct {
	store        assets.Store
	logger       *log.Logger
	fallbackPath string
}

// NewNormalizer builds a normalizer. fallbackPath names an external webp
// decoder binary (dwebp) tried when the built-in codecs reject a sticker;
// empty disables the fallback.
func NewNormalizer(store assets.Store, logger *log.Logger, fallbackPath string) *Normalizer {
	return &Normalizer{
		store:        store,
		logger:       logger,
		fallbackPath: strings.TrimSpace(fallbackPath),
	}
}

// Normalize decodes the raw bytes of msg and writes the raster into a fresh
// asset. The input bytes and any input handle stay owned by the caller.
func (n *Normalizer) Normalize(ctx context.Context, msg domain.Envelope, data []byte) (assets.Handle, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	switch msg.Kind {
	case domain.KindSticker:
		if msg.Animated {
			return "", domain.ErrAnimatedSticker
		}
	case domain.KindDocument:
		if !domain.IsImageDocument(msg.File.MIMEType, msg.File.Name) {
			return "", domain.ErrNotAnImage
		}
	case domain.KindPhoto:
	default:
		return "", fmt.Errorf("message kind %q carries no image", msg.Kind)
	}

	img, err := decodeNRGBA(data)
	if err != nil {
		if msg.Kind != domain.KindSticker {
			return "", fmt.Errorf("%w: %v", domain.ErrUnreadableImage, err)
		}

		if n.logger != nil {
			n.logger.Printf("sticker decode failed, trying fallback converter err=%v", err)
		}
		img, err = n.convertWithFallback(ctx, data)
		if err != nil {
			return "", err
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode normalized raster: %w", err)
	}

	h := n.store.Allocate(".png")
	if err := n.store.Write(ctx, h, buf.Bytes()); err != nil {
		return "", err
	}
	return h, nil
}

// convertWithFallback shells out to the configured webp decoder. The scratch
// files live outside the asset store because the binary needs local paths.
func (n *Normalizer) convertWithFallback(ctx context.Context, data []byte) (*image.NRGBA, error) {
	if n.fallbackPath == "" {
		return nil, domain.ErrUnsupportedSticker
	}

	in, err := os.CreateTemp("", "logostamp-*.webp")
	if err != nil {
		return nil, fmt.Errorf("create fallback scratch file: %w", err)
	}
	inPath := in.Name()
	outPath := inPath + ".png"
	defer func() {
		_ = os.Remove(inPath)
		_ = os.Remove(outPath)
	}()

	if _, err := in.Write(data); err != nil {
		_ = in.Close()
		return nil, fmt.Errorf("write fallback scratch file: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("close fallback scratch file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, fallbackTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, n.fallbackPath, inPath, "-o", outPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		if n.logger != nil {
			n.logger.Printf("fallback converter failed bin=%s err=%v output=%q", n.fallbackPath, err, strings.TrimSpace(string(output)))
		}
		return nil, fmt.Errorf("%w: fallback converter failed: %v", domain.ErrUnsupportedSticker, err)
	}

	converted, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read converted sticker: %v", domain.ErrUnsupportedSticker, err)
	}

	img, err := decodeNRGBA(converted)
	if err != nil {
		return nil, fmt.Errorf("%w: converted sticker undecodable: %v", domain.ErrUnsupportedSticker, err)
	}
	return img, nil
}
