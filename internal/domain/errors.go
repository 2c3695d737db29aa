package domain

import "errors"

var (
	// Normalization failures.
	ErrAnimatedSticker    = errors.New("animated stickers are not supported")
	ErrUnsupportedSticker = errors.New("sticker format is not supported by available codecs")
	ErrNotAnImage         = errors.New("document does not carry an image")

	// Composition failures.
	ErrUnreadableImage = errors.New("image could not be decoded")
)
