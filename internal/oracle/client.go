// Package oracle предоставляет клиент ценовых фидов и TTL-кеш цен.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
)

// Ошибки получения данных от внешнего фида.
var (
	// ErrFeedUnavailable возвращается, если фид не смог предоставить значение.
	ErrFeedUnavailable = errors.New("price feed unavailable")
	// ErrPriceConversion возвращается, если сырое значение фида не представимо целым числом.
	ErrPriceConversion = errors.New("price conversion failed")
	// ErrZeroPrice возвращается, если полученная цена неположительна.
	ErrZeroPrice = errors.New("zero or negative price")
	// ErrInvalidAsset возвращается для неизвестного актива.
	ErrInvalidAsset = errors.New("invalid asset")
	// ErrInvalidKind возвращается для неизвестного типа значения фида.
	ErrInvalidKind = errors.New("invalid feed kind")
)

// Source описывает внешний источник значений ценового фида.
type Source interface {
	Fetch(ctx context.Context, feedRef string) (decimal.Decimal, error)
}

// Client инкапсулирует HTTP-взаимодействие со шлюзом ценовых фидов.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

type feedResponse struct {
	Feed  string          `json:"feed"`
	Value decimal.Decimal `json:"value"`
}

// NewClient создаёт HTTP-клиент шлюза фидов по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 1 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}
}

// Fetch запрашивает сырое значение фида по его идентификатору.
func (c *Client) Fetch(ctx context.Context, feedRef string) (decimal.Decimal, error) {
	if c == nil || c.baseURL == "" {
		return decimal.Zero, fmt.Errorf("%w: feed gateway not configured", ErrFeedUnavailable)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/feeds/%s", base, feedRef)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: unexpected status %d", ErrFeedUnavailable, resp.StatusCode)
	}

	var result feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode response: %s", ErrFeedUnavailable, err)
	}

	return result.Value, nil
}
