// Package rewrite maps an inbound request URI onto an upstream authority.
package rewrite

import "net/url"

// Rewrite returns a new URI with the given scheme and authority. Path and query are
// copied byte for byte; userinfo and fragment are dropped since they never reach the wire.
// The input is not modified.
func Rewrite(in *url.URL, authority, scheme string) *url.URL {
	out := &url.URL{Scheme: scheme, Host: authority}
	if in == nil {
		return out
	}
	out.Path = in.Path
	out.RawPath = in.RawPath
	out.RawQuery = in.RawQuery
	out.ForceQuery = in.ForceQuery
	if in.Opaque != "" && in.Path == "" {
		// "*" and other opaque request targets
		out.Path = in.Opaque
	}
	return out
}

// UpgradeScheme returns the websocket scheme matching an http scheme.
func UpgradeScheme(scheme string) string {
	switch scheme {
	case "https", "wss":
		return "wss"
	default:
		return "ws"
	}
}
