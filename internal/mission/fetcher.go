package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yegors/uav-deconflict/pkg/logger"
)

// maxFeedBytes caps the size of a remote flight feed
const maxFeedBytes = 32 << 20

// Fetcher loads simulated flights from a local file or an HTTP feed
type Fetcher struct {
	httpClient *http.Client
	logger     *logger.Logger
}

// NewFetcher creates a new fetcher
func NewFetcher(timeout time.Duration, logger *logger.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("fetcher"),
	}
}

// IsRemote reports whether source is an http(s) URL
func IsRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// FetchDocuments loads raw flight documents from source
func (f *Fetcher) FetchDocuments(ctx context.Context, source string) ([]FlightDocument, error) {
	if IsRemote(source) {
		return f.fetchRemote(ctx, source)
	}

	f.logger.Debug("Loading simulated flights from file", logger.String("path", source))
	return LoadFlightDocuments(source)
}

func (f *Fetcher) fetchRemote(ctx context.Context, url string) ([]FlightDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	f.logger.Debug("Fetching simulated flights", logger.String("url", url))

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Error("Failed to execute request", logger.Error(err), logger.String("url", url))
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.Error("Unexpected status code",
			logger.Int("status_code", resp.StatusCode),
			logger.String("url", url))
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxFeedBytes {
		return nil, fmt.Errorf("flight feed exceeds %d bytes", maxFeedBytes)
	}

	var docs []FlightDocument
	if err := json.Unmarshal(body, &docs); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		f.logger.Error("Failed to parse flight feed", logger.Error(err), logger.String("body", preview))
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	f.logger.Debug("Fetched simulated flights",
		logger.Int("flight_count", len(docs)),
		logger.Duration("duration", time.Since(start)),
	)

	return docs, nil
}
