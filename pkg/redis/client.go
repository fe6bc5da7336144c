package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/onurcolak/sequence-dialer/environments"
	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
)

type Client struct {
	client valkey.Client
}

const (
	dispatchKeyPrefix = "dispatch:"
	analysisKeyPrefix = "analysis:"
	cacheTTL          = 24 * time.Hour
)

func NewRedisClient(cfg environments.RedisConfig) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis (via Valkey client)")

	return &Client{client: client}, nil
}

func (c *Client) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	return c.client.Do(ctx, c.client.B().Set().Key(key).Value(string(data)).Ex(cacheTTL).Build()).Error()
}

// CacheDispatch keeps the latest accepted dispatch of an entry for 24h.
func (c *Client) CacheDispatch(ctx context.Context, record domain.DispatchRecord) error {
	if err := c.setJSON(ctx, dispatchKeyPrefix+record.EntryID, record); err != nil {
		return fmt.Errorf("failed to cache dispatch: %w", err)
	}

	logger.Debugf("Cached dispatch %s -> %s in Redis", record.EntryID, record.TrackingID)

	return nil
}

func (c *Client) GetCachedDispatch(ctx context.Context, entryID string) (*domain.DispatchRecord, error) {
	result := c.client.Do(ctx, c.client.B().Get().Key(dispatchKeyPrefix+entryID).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached dispatch: %w", result.Error())
	}

	data, err := result.ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to read cached dispatch: %w", err)
	}

	var record domain.DispatchRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return &record, nil
}

func (c *Client) GetAllCachedDispatches(ctx context.Context) (map[string]*domain.DispatchRecord, error) {
	pattern := dispatchKeyPrefix + "*"

	var keys []string
	var cursor uint64
	for {
		result := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build())
		if result.Error() != nil {
			return nil, fmt.Errorf("failed to scan cache keys: %w", result.Error())
		}

		scanResult, err := result.AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to parse scan result: %w", err)
		}

		keys = append(keys, scanResult.Elements...)
		cursor = scanResult.Cursor

		if cursor == 0 {
			break
		}
	}

	result := make(map[string]*domain.DispatchRecord, len(keys))

	for _, key := range keys {
		getResult := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
		if getResult.Error() != nil {
			continue
		}

		data, err := getResult.ToString()
		if err != nil {
			continue
		}

		var record domain.DispatchRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			logger.Warnf("failed to decode cached dispatch %q: %v", key, err)
			continue
		}

		result[strings.TrimPrefix(key, dispatchKeyPrefix)] = &record
	}

	return result, nil
}

// CacheAnalysis keeps an analyzer result keyed by call ID for 24h.
func (c *Client) CacheAnalysis(ctx context.Context, analysis domain.CallAnalysis) error {
	if err := c.setJSON(ctx, analysisKeyPrefix+analysis.CallID, analysis); err != nil {
		return fmt.Errorf("failed to cache analysis: %w", err)
	}

	return nil
}

func (c *Client) Close() error {
	c.client.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
