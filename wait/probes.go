package wait

import (
	"net"
	"net/http"
	"time"
)

// ForTCP waits until a TCP connection can be established. Dial errors are
// swallowed and retried.
func ForTCP(address string, opts ...*Options) error {
	return Until(func() (bool, error) {
		conn, err := net.DialTimeout("tcp", address, 5*time.Second)
		if err != nil {
			return false, nil
		}
		conn.Close()
		return true, nil
	}, opts...)
}

// ForHTTPHealthy waits until an HTTP endpoint answers with any 2xx status.
func ForHTTPHealthy(url string, opts ...*Options) error {
	client := &http.Client{Timeout: 10 * time.Second}

	return Until(func() (bool, error) {
		resp, err := client.Get(url)
		if err != nil {
			return false, nil
		}
		defer resp.Body.Close()

		return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
	}, opts...)
}
