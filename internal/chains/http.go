package chains

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

const maxErrorBody = 512

// DoJSON executes req and decodes a 2xx JSON body into out.
// HTTP 429 maps to *models.RateLimitedError; transport failures and
// other non-2xx statuses map to *models.AdapterUnavailableError.
func DoJSON(ctx context.Context, client *http.Client, req *http.Request, chain models.ChainID, addr string, out any) error {
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.AdapterUnavailableError{Chain: chain, Address: addr, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &models.RateLimitedError{
			Chain:      chain,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("HTTP 429 from %s", req.URL.Host),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &models.AdapterUnavailableError{
			Chain:   chain,
			Address: addr,
			Err:     fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.AdapterUnavailableError{Chain: chain, Address: addr, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// ParseRetryAfter reads a Retry-After header given in seconds
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
