package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/guardmesh/sentinel/pkg/types"
)

// categoryPatterns classifies a source item into a threat category by the
// first matching family, checked in declaration order.
var categoryPatterns = []struct {
	category types.ThreatCategory
	pattern  *regexp.Regexp
}{
	{types.CategoryJailbreak, regexp.MustCompile(`(?i)(` +
		`jailbreak|jail[\s-]?break|` +
		`\bDAN\b|do anything now|` +
		`ignore (?:all )?(?:previous|prior) instructions|` +
		`bypass (?:the )?(?:safety|guardrails?|filters?)|` +
		`unrestricted (?:mode|ai|assistant)|` +
		`developer mode` +
		`)`)},
	{types.CategoryPromptInjection, regexp.MustCompile(`(?i)(` +
		`prompt injection|indirect injection|` +
		`injected? (?:instructions?|prompts?)|` +
		`system prompt override|` +
		`hidden (?:instructions?|text) in` +
		`)`)},
	{types.CategoryDataExtraction, regexp.MustCompile(`(?i)(` +
		`(?:leak|extract|reveal|exfiltrat\w+)\w*\s+(?:the\s+)?(?:system prompt|training data|secrets?|credentials?)|` +
		`system prompt (?:leak|extraction|disclosure)|` +
		`training data extraction|` +
		`membership inference` +
		`)`)},
	{types.CategoryManipulation, regexp.MustCompile(`(?i)(` +
		`emotional manipulation|` +
		`(?:grandma|dying|dead) (?:exploit|trick|prompt)|` +
		`role[\s-]?play (?:attack|exploit|bypass)|` +
		`social engineer\w* (?:the |an? )?(?:model|ai|llm|assistant)|` +
		`persona (?:hijack|exploit)` +
		`)`)},
}

// techniqueKeywords tags known technique names found in item text.
var techniqueKeywords = []string{
	"roleplay", "role-play", "persona", "hypothetical", "obfuscation",
	"base64", "encoding", "token smuggling", "payload splitting",
	"many-shot", "crescendo", "authority", "translation",
}

// ExtractCandidate converts a source item into a threat pattern candidate,
// or returns false when the item matches no category. The ID is derived from
// the source name and the item's source-stable identifier so repeated scans
// of the same item are idempotent.
func ExtractCandidate(sourceName string, item Item, now time.Time) (types.ThreatPattern, bool) {
	text := item.Title + "\n" + item.Body

	var category types.ThreatCategory
	var matched bool
	for _, cp := range categoryPatterns {
		if cp.pattern.MatchString(text) {
			category = cp.category
			matched = true
			break
		}
	}
	if !matched {
		return types.ThreatPattern{}, false
	}

	return types.ThreatPattern{
		ID:           DeriveID(sourceName, item.ID),
		Name:         candidateName(item),
		Description:  truncateText(item.Body, 1000),
		Category:     category,
		Severity:     types.SeverityMedium, // provisional until enrichment
		Techniques:   extractTechniques(text),
		Examples:     extractExamples(text),
		DiscoveredAt: now,
		Source:       sourceName,
	}, true
}

// DeriveID builds the deterministic source-stable threat identifier.
func DeriveID(sourceName, itemID string) string {
	sum := sha256.Sum256([]byte(sourceName + "::" + itemID))
	return "threat-" + hex.EncodeToString(sum[:8])
}

func candidateName(item Item) string {
	name := strings.TrimSpace(item.Title)
	if name == "" {
		name = truncateText(strings.TrimSpace(item.Body), 60)
	}
	if name == "" {
		name = "unnamed threat"
	}
	return truncateText(name, 120)
}

func extractTechniques(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	seen := make(map[string]bool)
	for _, kw := range techniqueKeywords {
		if strings.Contains(lower, kw) && !seen[kw] {
			seen[kw] = true
			out = append(out, kw)
		}
	}
	return out
}

var quotedPromptPattern = regexp.MustCompile(`"([^"]{30,280})"`)

// extractExamples pulls quoted strings long enough to plausibly be attack
// prompts out of the item text.
func extractExamples(text string) []string {
	matches := quotedPromptPattern.FindAllStringSubmatch(text, 3)
	var out []string
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Step back to a rune boundary so the cut never emits invalid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
