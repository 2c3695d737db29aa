package domain

import (
	"errors"
	"fmt"
	"strings"
)

const (
	KindPhoto    = "photo"
	KindDocument = "document"
	KindSticker  = "sticker"
	KindText     = "text"
	KindCommand  = "command"

	CommandStart  = "start"
	CommandOwner  = "owner"
	CommandCancel = "cancel"

	ConfirmToken = "confirm"
)

// FileRef identifies a remote file held by the transport. The transport
// resolves it to bytes on demand; the core never interprets the ID.
type FileRef struct {
	ID       string
	Name     string
	MIMEType string
}

// Envelope is one inbound message, already classified by the transport.
type Envelope struct {
	Kind     string
	File     FileRef
	Animated bool
	Text     string
	Command  string
}

func (e Envelope) Validate() error {
	switch e.Kind {
	case KindPhoto, KindDocument, KindSticker:
		if strings.TrimSpace(e.File.ID) == "" {
			return fmt.Errorf("%s message requires a file reference", e.Kind)
		}
		return nil
	case KindText:
		return nil
	case KindCommand:
		if strings.TrimSpace(e.Command) == "" {
			return errors.New("command message requires a command name")
		}
		return nil
	default:
		return fmt.Errorf("unsupported message kind: %q", e.Kind)
	}
}

// ImageBearing reports whether the envelope carries image data usable as a
// base image or logo.
func (e Envelope) ImageBearing() bool {
	switch e.Kind {
	case KindPhoto, KindSticker:
		return true
	case KindDocument:
		return IsImageDocument(e.File.MIMEType, e.File.Name)
	default:
		return false
	}
}

// IsConfirm matches the confirmation token, case-insensitively and ignoring
// surrounding whitespace.
func IsConfirm(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), ConfirmToken)
}

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".bmp"}

// IsImageDocument reports whether a document's declared MIME type or
// filename extension indicates an image.
func IsImageDocument(mimeType, name string) bool {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image") {
		return true
	}
	name = strings.ToLower(strings.TrimSpace(name))
	for _, ext := range imageExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
