package domain

import "time"

// BatchLog is the accounting record written after a batch run. Sessions are
// transient, so this is the only durable trace of work performed.
type BatchLog struct {
	BatchID         string
	UserID          int64
	ImagesProcessed int
	ImagesSkipped   int
	PixelsProcessed int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
