package extraction

import (
	"strings"

	"golang.org/x/text/width"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
)

const identifierLength = 6

// ParseReply reads one "name identifier" pair per line. The last
// whitespace-delimited token is the identifier; everything before it,
// joined by single spaces, is the name.
func ParseReply(reply string) domain.ExtractionResult {
	var result domain.ExtractionResult
	seen := make(map[string]struct{})

	for _, raw := range strings.Split(reply, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			result.Rejected = append(result.Rejected, domain.RejectedItem{Line: line, Reason: domain.ReasonMalformedLine})
			continue
		}

		last := len(fields) - 1
		identifier := NormalizeIdentifier(fields[last])
		if !ValidIdentifier(identifier) {
			result.Rejected = append(result.Rejected, domain.RejectedItem{Line: line, Reason: domain.ReasonInvalidIdentifier})
			continue
		}
		if _, dup := seen[identifier]; dup {
			continue
		}
		seen[identifier] = struct{}{}

		result.Candidates = append(result.Candidates, domain.Candidate{
			Name:       strings.Join(fields[:last], " "),
			Identifier: identifier,
		})
	}

	return result
}

// NormalizeIdentifier folds full-width characters (common in OCR output)
// to their ASCII forms.
func NormalizeIdentifier(token string) string {
	return width.Narrow.String(strings.TrimSpace(token))
}

// ValidIdentifier reports whether id is exactly six ASCII digits.
func ValidIdentifier(id string) bool {
	if len(id) != identifierLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// reconcile reports source lines that contributed nothing: they mention no
// accepted identifier or name and were not already rejected from the reply,
// either verbatim or through the token and name of a rejected reply line.
func reconcile(source []string, result domain.ExtractionResult) domain.ExtractionResult {
	rejected := make(map[string]struct{}, len(result.Rejected))
	var echoes []domain.Candidate
	for _, item := range result.Rejected {
		rejected[item.Line] = struct{}{}
		// A reply line with a bad identifier already reports the source line
		// it came from; match that line by its token or name.
		if item.Reason != domain.ReasonInvalidIdentifier {
			continue
		}
		fields := strings.Fields(item.Line)
		if len(fields) < 2 {
			continue
		}
		last := len(fields) - 1
		echoes = append(echoes, domain.Candidate{
			Name:       strings.Join(fields[:last], " "),
			Identifier: NormalizeIdentifier(fields[last]),
		})
	}

	for _, raw := range source {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if _, ok := rejected[line]; ok {
			continue
		}
		narrow := width.Narrow.String(line)
		if mentionsCandidate(line, result.Candidates) || mentionsCandidate(narrow, result.Candidates) {
			continue
		}
		if mentionsCandidate(line, echoes) || mentionsCandidate(narrow, echoes) {
			continue
		}
		rejected[line] = struct{}{}
		result.Rejected = append(result.Rejected, domain.RejectedItem{Line: line, Reason: domain.ReasonMalformedLine})
	}
	return result
}

func mentionsCandidate(line string, candidates []domain.Candidate) bool {
	for _, c := range candidates {
		if strings.Contains(line, c.Identifier) {
			return true
		}
		if c.Name != "" && strings.Contains(line, c.Name) {
			return true
		}
	}
	return false
}
