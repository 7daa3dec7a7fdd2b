package validation

import (
	"net/url"
	"strings"
)

var redirectParams = map[string]struct{}{
	"redirect":     {},
	"redirect_uri": {},
	"redirect_url": {},
	"return":       {},
	"return_to":    {},
	"returnto":     {},
	"return_url":   {},
	"next":         {},
	"continue":     {},
	"callback":     {},
	"url":          {},
}

// IsRedirectParam reports whether a query parameter name carries a redirect
// target. Matching is case-insensitive.
func IsRedirectParam(name string) bool {
	_, ok := redirectParams[strings.ToLower(name)]
	return ok
}

// ValidRedirect accepts same-origin relative paths and absolute http(s) URLs
// whose host is in allowedHosts.
func ValidRedirect(target string, allowedHosts []string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return true
	}
	if hasControlRune(target) {
		return false
	}

	if strings.HasPrefix(target, "/") {
		// "//host" and "/\host" are protocol-relative in browsers.
		return len(target) == 1 || (target[1] != '/' && target[1] != '\\')
	}

	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.User != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range allowedHosts {
		if host == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
