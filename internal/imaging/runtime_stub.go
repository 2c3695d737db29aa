//go:build !govips || !cgo

package imaging

import "github.com/tslm9/logostamp/internal/assets"

func Startup() error {
	return nil
}

func Shutdown() {}

func newCompositor(store assets.Store, quality int) Compositor {
	return stdCompositor{store: store, quality: quality}
}
