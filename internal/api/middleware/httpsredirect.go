package middleware

import (
	"net"
	"net/http"
	"strconv"
)

// HTTPSRedirectHandler redirects every plain-HTTP request to the same path on
// the TLS listener at httpsPort. It runs as its own server next to the main
// one; the port is left off the target when it is 443.
func HTTPSRedirectHandler(httpsPort int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if httpsPort != 443 {
			host = net.JoinHostPort(host, strconv.Itoa(httpsPort))
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
}
