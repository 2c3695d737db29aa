//go:build govips && cgo

package imaging

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/tslm9/logostamp/internal/assets"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func newCompositor(store assets.Store, quality int) Compositor {
	return govipsCompositor{store: store, quality: quality}
}
