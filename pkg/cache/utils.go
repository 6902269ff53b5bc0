package cache

import "strings"

// GenerateKey joins the non-empty parts with ':' in lower case, so
// ("price", "CELO", "", "celo") and ("price", "celo", "celo") share a key.
func GenerateKey(prefix string, parts ...string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(prefix))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(strings.ToLower(p))
	}
	return b.String()
}

// BuildPattern creates a glob matching every key under prefix.
func BuildPattern(prefix string) string {
	return prefix + "*"
}
