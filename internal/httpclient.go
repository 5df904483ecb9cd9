package internal

import (
	"net"
	"net/http"
	"sync"
	"time"
)

var cP sync.Map

// GetHTTPClient returns a pooled http.Client for the given base url. Clients
// are cached per url so keep-alive connections to moonraker and spoolman are
// reused across calls.
func GetHTTPClient(url string, timeout time.Duration) http.Client {
	rawClient, _ := cP.LoadOrStore(url, http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     false,
			MaxIdleConns:          100,
			IdleConnTimeout:       10 * time.Second,
			TLSHandshakeTimeout:   1 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	})

	return rawClient.(http.Client)
}
