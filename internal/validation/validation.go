package validation

import (
	"strings"

	"messaging-service/internal/domain"
	"messaging-service/internal/models"
)

// MessageContent trims raw message text and enforces the length bounds
// shared by the HTTP surface and the client session. Returns the trimmed
// content.
func MessageContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", domain.NewValidationError("content", "message is empty")
	}
	if len([]rune(content)) > models.MaxContentLength {
		return "", domain.NewValidationError("content", "message exceeds maximum length")
	}
	return content, nil
}
