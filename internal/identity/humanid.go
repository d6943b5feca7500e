package identity

import (
	"regexp"
	"strings"
)

const humanIDMaxLen = 12

var hexRunPattern = regexp.MustCompile(`[0-9a-fA-F]+`)

// HumanID derives a short anchor from the most stable identifier available.
// Preference order: partition UUID, partition table UUID, filesystem UUID,
// then the composite volume id as a last resort.
func HumanID(partUUID, ptUUID, mountUUID, volumeID string) string {
	token := ""
	for _, candidate := range []string{partUUID, ptUUID, mountUUID, volumeID} {
		if candidate != "" {
			token = candidate
			break
		}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}

	// Composite identifiers like "uuid=...|serial=..." read poorly on a
	// label, so keep only the last hex-ish run.
	if strings.ContainsAny(token, "=|") {
		if chunks := hexRunPattern.FindAllString(token, -1); len(chunks) > 0 {
			token = chunks[len(chunks)-1]
		}
	}

	// Prefer the suffix segments after dashes, pulling in extra segments
	// while the accumulated tail is very short.
	if strings.Contains(token, "-") {
		var parts []string
		for _, p := range strings.Split(token, "-") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) > 0 {
			acc := parts[len(parts)-1]
			for idx := len(parts) - 2; len(acc) < 6 && idx >= 0; idx-- {
				acc = parts[idx] + "-" + acc
			}
			token = acc
		}
	}

	if len(token) > humanIDMaxLen {
		token = token[len(token)-humanIDMaxLen:]
	}
	return token
}
