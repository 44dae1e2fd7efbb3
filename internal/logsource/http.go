package logsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// HTTPSource reads GET {base}/logs/{source}?tail=N.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates an HTTP log source.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch returns the last tail lines of source.
func (s *HTTPSource) Fetch(ctx context.Context, source string, tail int) (domain.LogResponse, error) {
	u := s.baseURL + "/logs/" + url.PathEscape(source) + "?tail=" + strconv.Itoa(tail)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.LogResponse{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.LogResponse{}, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	var out domain.LogResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.LogResponse{
			Status:  domain.LogStatusError,
			Message: fmt.Sprintf("unreadable log response (HTTP %d): %v", resp.StatusCode, err),
		}, nil
	}
	if out.Status == "" {
		out.Status = domain.LogStatusError
	}
	return out, nil
}
