// Package assets provides transient, handle-addressed storage for
// downloaded inputs, intermediate rasters, and produced outputs. Every
// handle is exclusively owned by one session or one in-flight operation.
package assets

import "context"

// Handle is an opaque identifier for one stored asset. Its contents are a
// backend detail; callers must not parse it.
type Handle string

type Store interface {
	// Allocate reserves a uniquely named, not-yet-materialized location
	// with the given format suffix.
	Allocate(suffix string) Handle

	Write(ctx context.Context, h Handle, data []byte) error
	Read(ctx context.Context, h Handle) ([]byte, error)

	// Release deletes the underlying resource if present. It is idempotent:
	// releasing an already-released or never-materialized handle is a
	// no-op. Deletion failures are logged and swallowed; the store never
	// depends on timely reclamation for correctness.
	Release(ctx context.Context, h Handle)
}
