package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
)

// Fingerprint hashes the normalized body of entry, falling back to the
// title when the body is empty. It returns "" when neither carries text.
func Fingerprint(entry domain.ContentEntry) string {
	text := normalizeText(entry.Body)
	if text == "" {
		text = normalizeText(entry.Title)
	}
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}
