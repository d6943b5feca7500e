package identity

import "regexp"

var lsblkPairPattern = regexp.MustCompile(`(\w+)="(.*?)"`)

// ParseLSBLKLine parses one line of lsblk -P output into a key/value map.
// Quoted values may contain spaces, so splitting on whitespace is not enough.
func ParseLSBLKLine(line string) map[string]string {
	result := make(map[string]string)
	for _, match := range lsblkPairPattern.FindAllStringSubmatch(line, -1) {
		result[match[1]] = match[2]
	}
	return result
}
