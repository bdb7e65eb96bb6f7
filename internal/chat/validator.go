package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/admitly/chat-core/internal/apperr"
)

const (
	MaxMessageBytes = 4096 // 4KB max text size
	MaxTextChars    = 2000 // max character count
	MaxAttachments  = 10
)

// NormalizeText trims text and checks content requirements. The trimmed text
// is returned on success.
func NormalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return "", apperr.New(apperr.ErrInvalidRequest, "message text is required")
	}
	if !utf8.ValidString(text) {
		return "", apperr.New(apperr.ErrInvalidRequest, "message contains invalid UTF-8")
	}
	if len(text) > MaxMessageBytes {
		return "", apperr.New(apperr.ErrInvalidRequest, fmt.Sprintf("message exceeds %d byte limit", MaxMessageBytes))
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return "", apperr.New(apperr.ErrInvalidRequest, fmt.Sprintf("message exceeds %d character limit", MaxTextChars))
	}
	return text, nil
}

// NormalizeAttachments drops blank references and enforces the count limit.
// The result is never nil.
func NormalizeAttachments(refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	if len(out) > MaxAttachments {
		return nil, apperr.New(apperr.ErrInvalidRequest, fmt.Sprintf("at most %d attachments allowed", MaxAttachments))
	}
	return out, nil
}
