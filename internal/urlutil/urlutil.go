// Package urlutil resolves relative references found inside fetched HLS
// playlists against the URL they were actually loaded from.
package urlutil

import (
	"fmt"
	"net/url"
)

// ResolveRef resolves ref against base, the way a browser resolves a
// relative link found inside a fetched document. If ref is already
// absolute, it is returned unchanged (normalized). base is typically the
// URL a playlist was actually loaded from, which may differ from the
// original request URL after a redirect.
func ResolveRef(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid reference URL %q: %w", ref, err)
	}
	return base.ResolveReference(u).String(), nil
}
