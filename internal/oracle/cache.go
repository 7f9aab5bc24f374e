package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/flexvault-system/internal/model"
)

// CacheTTL — максимальный возраст закешированной цены в секундах.
const CacheTTL = 60

// feedTable сопоставляет пары (актив, тип значения) идентификаторам фидов.
// SOL публикует только цену, LST-активы — цену и APY.
var feedTable = map[string]map[model.FeedKind]string{
	"SOL":     {model.FeedKindPrice: "sol-price"},
	"JupSOL":  {model.FeedKindPrice: "jupsol-price", model.FeedKindAPY: "jupsol-apy"},
	"vSOL":    {model.FeedKindPrice: "vsol-price", model.FeedKindAPY: "vsol-apy"},
	"bSOL":    {model.FeedKindPrice: "bsol-price", model.FeedKindAPY: "bsol-apy"},
	"mSOL":    {model.FeedKindPrice: "msol-price", model.FeedKindAPY: "msol-apy"},
	"HSOL":    {model.FeedKindPrice: "hsol-price", model.FeedKindAPY: "hsol-apy"},
	"JitoSOL": {model.FeedKindPrice: "jitosol-price", model.FeedKindAPY: "jitosol-apy"},
}

// SupportedAsset сообщает, известен ли актив таблице фидов.
func SupportedAsset(asset string) bool {
	_, ok := feedTable[asset]
	return ok
}

type cacheEntry struct {
	value      int64
	lastUpdate int64
}

// Cache хранит последние значения фидов с контролем устаревания.
// Каждая пара (актив, тип) имеет независимые часы устаревания.
type Cache struct {
	mu      sync.Mutex
	source  Source
	now     func() time.Time
	entries map[string]cacheEntry
}

// NewCache создаёт кеш поверх указанного источника фидов.
func NewCache(source Source) *Cache {
	return &Cache{
		source:  source,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// WithClock заменяет источник времени кеша. Используется в тестах.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Value возвращает значение фида для пары (актив, тип). Если закешированное
// значение моложе CacheTTL, внешний источник не опрашивается.
func (c *Cache) Value(ctx context.Context, asset string, kind model.FeedKind) (int64, error) {
	feeds, ok := feedTable[asset]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAsset, asset)
	}
	feedRef, ok := feeds[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrInvalidKind, asset, kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().Unix()

	if entry, ok := c.entries[feedRef]; ok && now-entry.lastUpdate <= CacheTTL {
		return entry.value, nil
	}

	raw, err := c.source.Fetch(ctx, feedRef)
	if err != nil {
		return 0, err
	}

	value, ok := rawToInt64(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPriceConversion, raw)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: %s/%s", ErrZeroPrice, asset, kind)
	}

	c.entries[feedRef] = cacheEntry{value: value, lastUpdate: now}

	return value, nil
}

// Price возвращает цену актива.
func (c *Cache) Price(ctx context.Context, asset string) (int64, error) {
	return c.Value(ctx, asset, model.FeedKindPrice)
}

// rawToInt64 переводит сырое значение фида в целое число без потери знака
// и переполнения. Дробная часть отбрасывается усечением к нулю.
func rawToInt64(raw decimal.Decimal) (int64, bool) {
	bi := raw.BigInt()
	if !bi.IsInt64() {
		return 0, false
	}
	return bi.Int64(), true
}
