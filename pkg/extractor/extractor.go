// Package extractor pulls verification-code candidates out of free-form
// message text. Extraction is deliberately precision-biased: a fixed keyword
// gate must match before any pattern runs, which suppresses false positives
// on promotional and billing text full of digit runs.
package extractor

import (
	"regexp"
	"strings"
)

// maxScanLength bounds the text handed to the regex engine.
const maxScanLength = 500

// Ordered from most to least specific. The first three are "high priority":
// once one of them yields an accepted candidate, the remaining patterns are
// skipped so stray alphanumeric substrings (URLs, order numbers) stay out.
var codePatterns = []*regexp.Regexp{
	// Keyword immediately followed by a short alphanumeric token.
	regexp.MustCompile(`(?i)(?:code|verification|verify|pin|otp)[:\s]*([A-Za-z0-9]{4,8})`),
	// CJK "verification code is/为/：" forms.
	regexp.MustCompile(`(?i)(?:验证码|驗證碼|認證碼|认证码)(?:为|為|是|：|:)\s*([A-Za-z0-9]{4,8})`),
	regexp.MustCompile(`您的验证码为([A-Za-z0-9]{4,8})`),
	// Token enclosed in brackets or parentheses.
	regexp.MustCompile(`[\(\[]([A-Za-z0-9]{4,8})[\)\]]`),
	// Token right after a colon or dash.
	regexp.MustCompile(`[:：-]\s*([A-Za-z0-9]{4,8})\b`),
	// Bare digit run.
	regexp.MustCompile(`\b\d{4,8}\b`),
	// Bare alphanumeric run, lowest priority.
	regexp.MustCompile(`\b[A-Za-z0-9]{4,8}\b`),
}

const highPriorityPatterns = 3

var keywords = []string{
	"verification", "verify", "code", "pin", "otp", "auth",
	"验证码", "驗證碼", "認證碼", "认证码",
}

// Common words that happen to match the token shape.
var stopWords = map[string]struct{}{
	"your": {}, "code": {}, "the": {}, "this": {}, "that": {}, "with": {},
	"from": {}, "have": {}, "will": {}, "been": {}, "they": {}, "were": {},
	"please": {}, "enter": {}, "complete": {}, "login": {}, "verify": {},
	"account": {}, "phone": {}, "number": {}, "message": {},
}

var numericOnly = regexp.MustCompile(`^\d{4,8}$`)
var hasDigit = regexp.MustCompile(`\d`)

// Extract returns the distinct verification-code candidates found in text,
// ordered by pattern priority and first occurrence. It returns nil when the
// keyword gate does not match, regardless of what digit runs are present.
func Extract(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if runes := []rune(text); len(runes) > maxScanLength {
		text = string(runes[:maxScanLength])
	}

	if !hasKeyword(text) {
		return nil
	}

	var codes []string
	seen := make(map[string]struct{})
	foundHighPriority := false

	for i, pattern := range codePatterns {
		if foundHighPriority && i >= highPriorityPatterns {
			break
		}

		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			code := match[0]
			if len(match) > 1 {
				code = match[1]
			}
			if !isValidCode(code) {
				continue
			}
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			codes = append(codes, code)

			if i < highPriorityPatterns {
				foundHighPriority = true
			}
			// A numeric hit on the two keyword-anchored patterns is
			// unambiguous; stop scanning entirely.
			if i < 2 && numericOnly.MatchString(code) {
				return codes
			}
		}
	}

	return codes
}

// Primary returns the single candidate judged most likely correct: the first
// purely numeric candidate if one exists, otherwise the first candidate.
func Primary(text string) (string, bool) {
	codes := Extract(text)
	if len(codes) == 0 {
		return "", false
	}
	for _, code := range codes {
		if numericOnly.MatchString(code) {
			return code, true
		}
	}
	return codes[0], true
}

func hasKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isValidCode(code string) bool {
	code = strings.TrimSpace(code)
	if len(code) < 4 || len(code) > 8 {
		return false
	}
	if _, stop := stopWords[strings.ToLower(code)]; stop {
		return false
	}
	// A token with no digit at all is almost never a verification code.
	return hasDigit.MatchString(code)
}
