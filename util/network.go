package util

import (
	"net"
	"net/url"
	"strconv"
)

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// WebSocketURL builds the ws:// URL a client dials for host, port and
// path.  A path without a leading slash gets one.
func WebSocketURL(host string, port int, path string) string {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	u := url.URL{Scheme: "ws", Host: FormatAddr(host, port), Path: path}
	return u.String()
}
