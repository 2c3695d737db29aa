// Package session tracks each user's in-flight watermark batch and
// orchestrates normalization, compositing, and asset lifecycle.
package session

import (
	"sync"

	"github.com/tslm9/logostamp/internal/assets"
)

const (
	PhaseIdle         = "idle"
	PhaseCollecting   = "collecting_images"
	PhaseAwaitingLogo = "awaiting_logo"
)

// state is one user's session. Its mutex serializes every operation for that
// user, including the download and decode suspension points, so a confirm
// can never interleave with a still-in-flight image arrival.
type state struct {
	mu    sync.Mutex
	phase string
	batch []assets.Handle
}
