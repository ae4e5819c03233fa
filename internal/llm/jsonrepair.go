package llm

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// RepairJSON attempts to turn a possibly-truncated LLM response into valid
// JSON. It tries the jsonrepair library first (it handles a much broader
// class of malformed JSON than the bracket-stack scanner below); if the
// repaired text still fails to parse, it falls back to the bracket-stack
// algorithm from spec.md §4.1, which is purpose-built for the single case
// that actually matters here: a response cut off mid-value by a provider's
// max-token limit.
func RepairJSON(raw string) (string, error) {
	if raw == "" {
		return raw, nil
	}

	if repaired, err := jsonrepair.JSONRepair(raw); err == nil {
		if json.Valid([]byte(repaired)) {
			return repaired, nil
		}
	}

	repaired := repairTruncatedJSON(raw)
	if json.Valid([]byte(repaired)) {
		return repaired, nil
	}

	return extractBestEffortObject(raw), nil
}

// repairTruncatedJSON implements spec.md §4.1 steps 1-5:
//  1. scan maintaining a bracket stack, string state (with escapes), and an
//     "after colon" flag
//  2. record the byte offset after every complete JSON value (closing
//     bracket, closed string, or complete number/true/false/null in value
//     position)
//  3. trim to the last such offset; strip trailing commas and any
//     incomplete primitive tail
//  4. strip a trailing dangling key (`,"k":` or `{"k":` at the end)
//  5. close any still-open brackets, in reverse order
func repairTruncatedJSON(raw string) string {
	type frame byte
	var stack []frame
	inString := false
	escaped := false
	afterColon := false
	lastCompleteOffset := 0
	var valueStart = -1 // offset where the current unquoted primitive value started

	completeValueAt := func(offset int) {
		lastCompleteOffset = offset
		afterColon = false
		valueStart = -1
	}

	runes := []rune(raw)
	for i, r := range runes {
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch r {
			case '\\':
				escaped = true
			case '"':
				inString = false
				// a closed string is a complete value only if it's not a
				// map key (i.e. not immediately followed by ':') — we
				// can't look ahead cheaply here, so treat every closed
				// string as a tentative complete-value point; the
				// trailing-dangling-key strip in step 4 cleans up the
				// false positive where this was actually a key.
				completeValueAt(i + 1)
			}
			continue
		}

		switch r {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, frame(r))
			afterColon = false
			valueStart = -1
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			completeValueAt(i + 1)
		case ':':
			afterColon = true
			valueStart = -1
		case ',':
			afterColon = false
			valueStart = -1
		case ' ', '\t', '\n', '\r':
			// whitespace never starts or ends a primitive scan
		default:
			if valueStart == -1 {
				valueStart = i
			}
			// detect a complete true/false/null/number by checking if the
			// next rune terminates it
			if i+1 >= len(runes) {
				break
			}
			next := runes[i+1]
			if next == ',' || next == '}' || next == ']' || next == ' ' || next == '\n' || next == '\t' || next == '\r' {
				token := string(runes[valueStart : i+1])
				if isCompletePrimitive(token) {
					completeValueAt(i + 1)
				}
			}
		}
	}

	trimmed := strings.TrimRight(string(runes[:lastCompleteOffset]), " \t\n\r")
	trimmed = strings.TrimRight(trimmed, ",")
	trimmed = stripDanglingKey(trimmed)

	// close open brackets in reverse order
	var closers strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			closers.WriteByte('}')
		} else {
			closers.WriteByte(']')
		}
	}
	return trimmed + closers.String()
}

func isCompletePrimitive(token string) bool {
	switch token {
	case "true", "false", "null":
		return true
	}
	if token == "" {
		return false
	}
	for _, r := range token {
		if (r < '0' || r > '9') && r != '-' && r != '+' && r != '.' && r != 'e' && r != 'E' {
			return false
		}
	}
	return true
}

// stripDanglingKey removes a trailing `,"k":` or `{"k":` (an opened key
// with no value yet) left at the very end of the trimmed text.
func stripDanglingKey(s string) string {
	trimmed := strings.TrimRight(s, " \t\n\r")
	if !strings.HasSuffix(trimmed, ":") {
		return s
	}
	// walk back over a quoted key
	i := len(trimmed) - 1 // index of ':'
	j := i - 1
	if j < 0 || trimmed[j] != '"' {
		return s
	}
	j--
	for j >= 0 && trimmed[j] != '"' {
		j--
	}
	if j < 0 {
		return s
	}
	// j is the opening quote of the key; strip back to before the
	// preceding comma or opening bracket
	head := strings.TrimRight(trimmed[:j], " \t\n\r")
	head = strings.TrimSuffix(head, ",")
	return head
}

// extractBestEffortObject is the final fallback when even the bracket-scan
// repair doesn't parse: find the first '{' and the last '}' and hope the
// interior is salvageable, else return an empty object.
func extractBestEffortObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start >= 0 && end > start {
		candidate := raw[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate
		}
	}
	return "{}"
}
