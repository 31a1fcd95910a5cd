package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"chat-backend/internal/models"
)

const catalogCacheKey = "catalog:free-models"

// priceEpsilon is the largest per-token price still treated as free.
const priceEpsilon = 1e-9

// CatalogService lists the free models offered by OpenRouter.
type CatalogService struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cache      *redis.Client
	ttl        time.Duration
}

func NewCatalogService(baseURL, apiKey string, cache *redis.Client, ttl time.Duration) *CatalogService {
	return &CatalogService{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		cache:      cache,
		ttl:        ttl,
	}
}

// FreeModels returns models whose prompt and completion prices are both zero.
// Results are cached in Redis when a cache is configured; cache errors only
// cost a fetch.
func (s *CatalogService) FreeModels(ctx context.Context) ([]models.ModelInfo, error) {
	if cached, ok := s.fromCache(ctx); ok {
		return cached, nil
	}
	free, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, free)
	return free, nil
}

// Refresh replaces the cached catalog with a fresh copy.
func (s *CatalogService) Refresh(ctx context.Context) error {
	free, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	s.toCache(ctx, free)
	return nil
}

func (s *CatalogService) fetch(ctx context.Context) ([]models.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build models request")
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch models")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("OpenRouter API error: %d", resp.StatusCode)
	}

	var body struct {
		Data []models.ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.New("Failed to parse OpenRouter API response")
	}

	free := make([]models.ModelInfo, 0, len(body.Data))
	for _, m := range body.Data {
		if isFree(m.Pricing) {
			free = append(free, m)
		}
	}
	return free, nil
}

func isFree(pricing json.RawMessage) bool {
	var p struct {
		Prompt     any `json:"prompt"`
		Completion any `json:"completion"`
	}
	// missing or unreadable pricing counts as zero
	_ = json.Unmarshal(pricing, &p)
	return math.Abs(price(p.Prompt)) < priceEpsilon && math.Abs(price(p.Completion)) < priceEpsilon
}

func price(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func (s *CatalogService) fromCache(ctx context.Context) ([]models.ModelInfo, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, catalogCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Msg("model catalog cache read failed")
		}
		return nil, false
	}
	var cached []models.ModelInfo
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false
	}
	return cached, true
}

func (s *CatalogService) toCache(ctx context.Context, list []models.ModelInfo) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	data, err := json.Marshal(list)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, catalogCacheKey, data, s.ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("model catalog cache write failed")
	}
}
