package statistics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"github.com/ManuelReschke/FiscalFox/app/repository"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/env"
)

const (
	CacheKeyTenantSummary  = "fiscal:statistics:%s" // Format with tenant id
	DefaultCacheExpiration = 5 * time.Minute
)

// Summary holds the document counters shown for a tenant.
type Summary struct {
	TenantID    string                        `json:"tenant_id"`
	Total       int64                         `json:"total"`
	Pending     int64                         `json:"pending"`
	Today       int64                         `json:"today"`
	ByStatus    map[models.FiscalStatus]int64 `json:"by_status"`
	GeneratedAt time.Time                     `json:"generated_at"`
}

// Service computes tenant summaries from the database and caches them in
// Redis. A nil client disables caching.
type Service struct {
	documents repository.FiscalDocumentRepository
	rdb       *redis.Client
	ttl       time.Duration
	now       func() time.Time
}

func NewService(documents repository.FiscalDocumentRepository, rdb *redis.Client) *Service {
	return &Service{
		documents: documents,
		rdb:       rdb,
		ttl:       env.GetEnvDuration("FISCAL_STATS_CACHE_TTL", DefaultCacheExpiration),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// TenantSummary returns the cached summary or rebuilds it from the database.
// Cache failures only fall back to the database.
func (s *Service) TenantSummary(ctx context.Context, tenantID string) (*Summary, error) {
	key := fmt.Sprintf(CacheKeyTenantSummary, tenantID)

	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var cached Summary
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				return &cached, nil
			}
			log.Warnf("[Statistics] Dropping unreadable cache entry %s", key)
		case !errors.Is(err, redis.Nil):
			log.Warnf("[Statistics] Cache read failed for %s: %v", key, err)
		}
	}

	summary, err := s.build(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if raw, err := json.Marshal(summary); err == nil {
			if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
				log.Warnf("[Statistics] Cache write failed for %s: %v", key, err)
			}
		}
	}
	return summary, nil
}

// Invalidate drops the cached summary so the next read hits the database.
func (s *Service) Invalidate(ctx context.Context, tenantID string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, fmt.Sprintf(CacheKeyTenantSummary, tenantID)).Err()
}

func (s *Service) build(ctx context.Context, tenantID string) (*Summary, error) {
	counts, err := s.documents.CountByStatus(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count documents by status: %w", err)
	}

	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := s.documents.CountCreatedSince(ctx, tenantID, midnight)
	if err != nil {
		return nil, fmt.Errorf("count documents created today: %w", err)
	}

	summary := &Summary{
		TenantID:    tenantID,
		Today:       today,
		ByStatus:    counts,
		GeneratedAt: now,
	}
	for status, n := range counts {
		summary.Total += n
		if status.IsPending() {
			summary.Pending += n
		}
	}
	return summary, nil
}
