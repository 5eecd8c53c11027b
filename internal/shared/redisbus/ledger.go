package redisbus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const offerKeyPrefix = "dispatch:offers:"

// OfferLedger stores the set of workers offered each job. Entries expire after
// ttl so abandoned jobs do not accumulate.
type OfferLedger struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewOfferLedger(rdb redis.Cmdable, ttl time.Duration) *OfferLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &OfferLedger{rdb: rdb, ttl: ttl}
}

func offerKey(jobID string) string { return offerKeyPrefix + jobID }

func (l *OfferLedger) Record(ctx context.Context, jobID string, workerIDs []string) error {
	if len(workerIDs) == 0 {
		return nil
	}
	members := make([]any, len(workerIDs))
	for i, id := range workerIDs {
		members[i] = id
	}

	key := offerKey(jobID)
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, members...)
		p.Expire(ctx, key, l.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record offers for job %s: %w", jobID, err)
	}
	return nil
}

func (l *OfferLedger) Offered(ctx context.Context, jobID string) ([]string, error) {
	ids, err := l.rdb.SMembers(ctx, offerKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load offers for job %s: %w", jobID, err)
	}
	return ids, nil
}

func (l *OfferLedger) Clear(ctx context.Context, jobID string) error {
	if err := l.rdb.Del(ctx, offerKey(jobID)).Err(); err != nil {
		return fmt.Errorf("clear offers for job %s: %w", jobID, err)
	}
	return nil
}
