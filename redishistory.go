package fileq

import (
	"context"
	"strconv"
	"strings"

	ikeys "github.com/UniQw/fileq/internal/keys"
	"github.com/redis/go-redis/v9"
)

// HistorySink persists history records outside the engine.
type HistorySink interface {
	Record(ctx context.Context, rec HistoryRecord) error
}

// RedisHistory stores history records in Redis: a LIST of encoded records,
// newest first, and a HASH counting finished tasks per status.
type RedisHistory struct {
	rdb     redis.UniversalClient
	keys    ikeys.Engine
	encoder Encoder
	limit   int64
}

// NewRedisHistory creates a sink under the given engine name. A positive limit
// trims the list to the newest limit records; counts are never trimmed.
func NewRedisHistory(rdb redis.UniversalClient, name string, limit int) *RedisHistory {
	return &RedisHistory{rdb: rdb, keys: ikeys.For(name), encoder: &JSONEncoder{}, limit: int64(limit)}
}

// Record appends rec and bumps its status counter atomically.
func (h *RedisHistory) Record(ctx context.Context, rec HistoryRecord) error {
	raw, err := h.encoder.Encode(rec)
	if err != nil {
		return err
	}
	_, err = h.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, h.keys.History, raw)
		if h.limit > 0 {
			p.LTrim(ctx, h.keys.History, 0, h.limit-1)
		}
		p.HIncrBy(ctx, h.keys.Counts, rec.Status.String(), 1)
		return nil
	})
	return err
}

// HistoryFilter is a function used to filter records during Load.
type HistoryFilter func(*HistoryRecord) bool

// Load returns stored records in completion order, oldest first.
// Entries that fail to decode are skipped.
func (h *RedisHistory) Load(ctx context.Context, filter HistoryFilter) ([]HistoryRecord, error) {
	strs, err := h.rdb.LRange(ctx, h.keys.History, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]HistoryRecord, 0, len(strs))
	for i := len(strs) - 1; i >= 0; i-- {
		var rec HistoryRecord
		if err := h.encoder.Decode([]byte(strs[i]), &rec); err == nil {
			if filter == nil || filter(&rec) {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// Counts returns the number of recorded tasks per terminal status.
func (h *RedisHistory) Counts(ctx context.Context) (map[Status]int64, error) {
	m, err := h.rdb.HGetAll(ctx, h.keys.Counts).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[Status]int64, len(m))
	for k, v := range m {
		st, perr := ParseStatus(k)
		if perr != nil {
			continue
		}
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[st] = n
	}
	return out, nil
}

// Clear deletes the stored records and counters.
func (h *RedisHistory) Clear(ctx context.Context) error {
	return h.rdb.Del(ctx, h.keys.History, h.keys.Counts).Err()
}

// ExtractEngineName parses an engine name from a raw Redis key (e.g. "fileq:{scanner}:history").
// It returns an empty string if the format is invalid.
func ExtractEngineName(key string) string {
	start := strings.Index(key, "{")
	if start == -1 {
		return ""
	}
	end := strings.Index(key, "}")
	if end == -1 || end <= start+1 {
		return ""
	}
	return key[start+1 : end]
}
