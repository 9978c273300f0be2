package ports

import "hirecall/internal/core/domain"

// RecognitionEngine is a single speech recognizer instance. Events are
// delivered to the handler asynchronously.
type RecognitionEngine interface {
	Supported() bool
	SetHandler(handler func(domain.RecognitionEvent))
	Start(audio MediaTrack) error
	Stop() error
}
