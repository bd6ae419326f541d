package static

import (
	"regexp"

	"github.com/murdok1982/hispanshield/internal/analysis/domain"
)

// Fixed IOC extraction patterns. Matching runs directly over the raw
// bytes; the patterns are pure ASCII so multibyte content cannot
// produce false classes.
var (
	ipv4Pattern   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	urlPattern    = regexp.MustCompile(`https?://(?:[-\w.]|(?:%[\da-fA-F]{2}))+`)
	emailPattern  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	domainPattern = regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,6}\b`)
)

// maxStringsPerCategory bounds findings memory for pathological inputs.
const maxStringsPerCategory = 256

// ExtractStrings pulls categorized printable strings out of the
// artifact, deduplicated per category.
func ExtractStrings(data []byte) domain.StringFindings {
	return domain.StringFindings{
		IPv4:    findUnique(ipv4Pattern, data),
		URLs:    findUnique(urlPattern, data),
		Emails:  findUnique(emailPattern, data),
		Domains: findUnique(domainPattern, data),
	}
}

func findUnique(pattern *regexp.Regexp, data []byte) []string {
	matches := pattern.FindAll(data, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		s := string(m)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if len(out) == maxStringsPerCategory {
			break
		}
	}
	return out
}
