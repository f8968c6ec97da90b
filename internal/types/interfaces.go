// internal/types/interfaces.go
package types

// CanvasSink receives large code or HTML payloads pulled out of the chat transcript.
type CanvasSink interface {
	PushToCanvas(content string, opts CanvasOptions) error
}

// VoiceSink speaks assistant text one sentence at a time.
type VoiceSink interface {
	QueueVoiceResponse(text string) error
}

// ErrorTranslator turns a backend error payload into one natural-language sentence.
type ErrorTranslator interface {
	Humanize(err any) string
}

// TokenCounter estimates the token length of a text.
type TokenCounter interface {
	Count(text string) int
}
