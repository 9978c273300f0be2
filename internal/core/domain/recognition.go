package domain

type RecognitionEventKind string

const (
	RecognitionStart  RecognitionEventKind = "start"
	RecognitionResult RecognitionEventKind = "result"
	RecognitionError  RecognitionEventKind = "error"
	RecognitionEnd    RecognitionEventKind = "end"
)

type RecognitionErrorKind string

const (
	RecognitionErrNone         RecognitionErrorKind = ""
	RecognitionErrNoSpeech     RecognitionErrorKind = "no-speech"
	RecognitionErrAudioCapture RecognitionErrorKind = "audio-capture"
	RecognitionErrNetwork      RecognitionErrorKind = "network"
	RecognitionErrAborted      RecognitionErrorKind = "aborted"
	RecognitionErrNotAllowed   RecognitionErrorKind = "not-allowed"
	RecognitionErrOther        RecognitionErrorKind = "other"
)

// ParseRecognitionError maps an engine error code onto a known kind.
func ParseRecognitionError(code string) RecognitionErrorKind {
	switch k := RecognitionErrorKind(code); k {
	case RecognitionErrNoSpeech, RecognitionErrAudioCapture, RecognitionErrNetwork,
		RecognitionErrAborted, RecognitionErrNotAllowed:
		return k
	}
	return RecognitionErrOther
}

// RecognitionEvent is delivered by a speech recognition engine.
type RecognitionEvent struct {
	Kind  RecognitionEventKind
	Text  string
	Final bool
	Err   RecognitionErrorKind
}
