package providers

import (
	"io"
	"net/http"
	"time"

	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/metrics"
)

const maxResponseBytes = 1 << 20

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// do executes req and returns the body of a 2xx response. Transport errors
// and any other status become a ProviderError.
func do(client *http.Client, provider, operation string, req *http.Request) ([]byte, int, error) {
	start := time.Now()
	resp, err := client.Do(req)
	metrics.ProviderRequestDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, 0, &apperror.ProviderError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &apperror.ProviderError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, resp.StatusCode, nil
}

func decodeError(provider string, status int, body []byte, err error) error {
	return &apperror.ProviderError{Provider: provider, StatusCode: status, Body: string(body), Err: err}
}
