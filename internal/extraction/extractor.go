// Package extraction turns screenshots or pasted text into validated
// name/identifier candidates.
//
// All knowledge of the language model's line-based reply format lives here;
// callers only see domain.ExtractionResult.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
)

const defaultTemperature = 0.2

// Input is either a base64 image (optionally a data URL) or plain text.
// The image wins when both are set.
type Input struct {
	ImageBase64 string
	Text        string
}

// RecognitionError wraps a failed recognition call.
type RecognitionError struct {
	Err error
}

func (e *RecognitionError) Error() string { return fmt.Sprintf("recognition: %v", e.Err) }

func (e *RecognitionError) Unwrap() error { return e.Err }

// ExtractionError wraps a failed extraction call.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return fmt.Sprintf("extraction: %v", e.Err) }

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor chains recognition and extraction calls and validates the reply.
type Extractor struct {
	recognizer ports.Recognizer
	completer  ports.Completer
	logger     *slog.Logger
}

// NewExtractor wires the external services. recognizer may be nil when only
// text input is expected.
func NewExtractor(recognizer ports.Recognizer, completer ports.Completer, logger *slog.Logger) *Extractor {
	return &Extractor{recognizer: recognizer, completer: completer, logger: logger}
}

// Extract returns candidates and rejections for in. An empty candidate list
// is not an error.
func (e *Extractor) Extract(ctx context.Context, in Input) (domain.ExtractionResult, error) {
	lines, err := e.sourceLines(ctx, in)
	if err != nil {
		return domain.ExtractionResult{}, err
	}
	if len(lines) == 0 {
		return domain.ExtractionResult{}, nil
	}
	e.debug("source lines ready", "lines", len(lines))

	if e.completer == nil {
		return domain.ExtractionResult{}, &ExtractionError{Err: fmt.Errorf("no extraction service configured")}
	}
	reply, err := e.completer.Complete(ctx, BuildPrompt(lines), defaultTemperature)
	if err != nil {
		return domain.ExtractionResult{}, &ExtractionError{Err: err}
	}

	result := reconcile(lines, ParseReply(reply))
	e.debug("extraction parsed", "candidates", len(result.Candidates), "rejected", len(result.Rejected))
	return result, nil
}

func (e *Extractor) sourceLines(ctx context.Context, in Input) ([]string, error) {
	if strings.TrimSpace(in.ImageBase64) != "" {
		if e.recognizer == nil {
			return nil, &RecognitionError{Err: fmt.Errorf("no recognition service configured")}
		}
		lines, err := e.recognizer.Recognize(ctx, in.ImageBase64)
		if err != nil {
			return nil, &RecognitionError{Err: err}
		}
		return nonBlank(lines), nil
	}
	return nonBlank(strings.Split(in.Text, "\n")), nil
}

func nonBlank(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (e *Extractor) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
