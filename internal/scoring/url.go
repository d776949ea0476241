package scoring

import (
	"net"
	"net/url"
	"strings"
)

// Query keys that identify a campaign or referrer rather than the page.
var trackingKeys = map[string]bool{
	"fbclid": true, "gclid": true, "msclkid": true, "yclid": true,
	"ref": true, "source": true, "spm": true,
}

func isTrackingKey(k string) bool {
	k = strings.ToLower(k)
	return trackingKeys[k] || strings.HasPrefix(k, "utm_")
}

// NormalizeURL maps equivalent spellings of a page onto one key so search
// results and fetched sources dedupe. Scheme and host are lowercased, "www."
// and default ports dropped, tracking parameters and the fragment removed and
// trailing slashes trimmed. Path case is preserved.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if port := u.Port(); port != "" && !isDefaultPort(u.Scheme, port) {
		host = net.JoinHostPort(host, port)
	}
	u.Host = host
	u.Fragment, u.RawFragment = "", ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if isTrackingKey(k) {
				q.Del(k)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
}

// ExtractDomain returns the lowercase host of rawURL without port or a
// leading "www.". Other subdomains are kept.
func ExtractDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."), nil
}
