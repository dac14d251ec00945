package redisstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"subjectfix/internal/domain"
)

// Triggers reported by GetStats, in order.
var Triggers = []string{"new_mail", "menu"}

func statsKey(trigger string) string {
	return fmt.Sprintf("stats:%s", trigger)
}

// IncrStat bumps the result counter of a trigger.
func (s *Store) IncrStat(ctx context.Context, trigger, result string) error {
	return s.client.HIncrBy(ctx, statsKey(trigger), result, 1).Err()
}

// GetStats returns the counters of every known trigger, zero when never set.
func (s *Store) GetStats(ctx context.Context) ([]domain.Stats, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(Triggers))
	for _, t := range Triggers {
		cmds = append(cmds, pipe.HGetAll(ctx, statsKey(t)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	stats := make([]domain.Stats, 0, len(Triggers))
	for i, t := range Triggers {
		vals, err := cmds[i].Result()
		if err != nil {
			return nil, err
		}
		stats = append(stats, domain.Stats{
			Trigger:   t,
			Processed: parseCount(vals["processed"]),
			Skipped:   parseCount(vals["skipped"]),
			Failed:    parseCount(vals["failed"]),
		})
	}
	return stats, nil
}

func parseCount(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
