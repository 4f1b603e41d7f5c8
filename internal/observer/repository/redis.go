package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jmerrifield20/digaas/internal/observer/model"
)

const (
	keyObserverPrefix  = "digaas:observer:"
	keyObserversByTime = "digaas:observers:by_start"
	keyObserversOpen   = "digaas:observers:accepted"
	keyStatsPrefix     = "digaas:stats:"
	keySummariesPrefix = "digaas:summaries:"
	keyPlotPrefix      = "digaas:plot:"
	keyQueries         = "digaas:queries"

	maxWatchRetries = 5
)

// RedisStore keeps records as JSON values. Sorted sets index observers by
// start time, open observers by accepted time and the query log by timestamp.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// OpenRedis connects to Redis and verifies the connection with PING.
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}

func observerKey(id uuid.UUID) string { return keyObserverPrefix + id.String() }

func score(t time.Time) float64 { return float64(t.UnixMicro()) }

func scoreArg(t time.Time) string { return strconv.FormatInt(t.UnixMicro(), 10) }

func (r *RedisStore) Create(ctx context.Context, o *model.Observer) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal observer: %w", err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, observerKey(o.ID), data, 0)
		pipe.ZAdd(ctx, keyObserversByTime, &redis.Z{Score: score(o.StartTime), Member: o.ID.String()})
		if o.Status == model.StatusAccepted {
			pipe.ZAdd(ctx, keyObserversOpen, &redis.Z{Score: score(o.AcceptedAt), Member: o.ID.String()})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert observer: %w", err)
	}
	return nil
}

// Update rewrites the observer under WATCH so a concurrent finalization
// cannot overwrite a terminal record.
func (r *RedisStore) Update(ctx context.Context, o *model.Observer) error {
	key := observerKey(o.ID)
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal observer: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrObserverNotFound
		}
		if err != nil {
			return err
		}
		var stored model.Observer
		if err := json.Unmarshal(cur, &stored); err != nil {
			return fmt.Errorf("decode observer: %w", err)
		}
		if stored.Status.Terminal() {
			return ErrObserverFinal
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if o.Status.Terminal() {
				pipe.ZRem(ctx, keyObserversOpen, o.ID.String())
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err = r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrObserverNotFound) && !errors.Is(err, ErrObserverFinal) {
			return fmt.Errorf("update observer: %w", err)
		}
		return err
	}
	return fmt.Errorf("update observer: %w", err)
}

func (r *RedisStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Observer, error) {
	raw, err := r.rdb.Get(ctx, observerKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrObserverNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get observer: %w", err)
	}
	var o model.Observer
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode observer: %w", err)
	}
	return &o, nil
}

func (r *RedisStore) ListByStartTime(ctx context.Context, from, to time.Time) ([]*model.Observer, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, keyObserversByTime, &redis.ZRangeBy{
		Min: scoreArg(from),
		Max: scoreArg(to),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list observers: %w", err)
	}
	return r.loadObservers(ctx, ids)
}

func (r *RedisStore) ListAccepted(ctx context.Context, acceptedBefore time.Time) ([]*model.Observer, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, keyObserversOpen, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + scoreArg(acceptedBefore),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list accepted observers: %w", err)
	}
	obs, err := r.loadObservers(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := obs[:0]
	for _, o := range obs {
		if o.Status == model.StatusAccepted {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *RedisStore) loadObservers(ctx context.Context, ids []string) ([]*model.Observer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyObserverPrefix + id
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load observers: %w", err)
	}
	out := make([]*model.Observer, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var o model.Observer
		if err := json.Unmarshal([]byte(s), &o); err != nil {
			return nil, fmt.Errorf("decode observer: %w", err)
		}
		out = append(out, &o)
	}
	return out, nil
}

// ── Stats requests ───────────────────────────────────────────────────────

func (r *RedisStore) CreateStats(ctx context.Context, st *model.ObserverStats) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	return r.putJSON(ctx, keyStatsPrefix+st.ID.String(), st)
}

func (r *RedisStore) UpdateStats(ctx context.Context, st *model.ObserverStats) error {
	key := keyStatsPrefix + st.ID.String()
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("update stats request: %w", err)
	}
	if n == 0 {
		return ErrStatsNotFound
	}
	return r.putJSON(ctx, key, st)
}

func (r *RedisStore) GetStats(ctx context.Context, id uuid.UUID) (*model.ObserverStats, error) {
	var st model.ObserverStats
	if err := r.getJSON(ctx, keyStatsPrefix+id.String(), &st); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStatsNotFound
		}
		return nil, fmt.Errorf("get stats request: %w", err)
	}
	return &st, nil
}

func (r *RedisStore) SaveSummaries(ctx context.Context, statsID uuid.UUID, summaries []model.Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	key := keySummariesPrefix + statsID.String()
	vals := make([]interface{}, 0, len(summaries))
	for _, s := range summaries {
		s.StatsID = statsID
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		vals = append(vals, data)
	}
	if err := r.rdb.RPush(ctx, key, vals...).Err(); err != nil {
		return fmt.Errorf("insert summaries: %w", err)
	}
	return nil
}

func (r *RedisStore) ListSummaries(ctx context.Context, statsID uuid.UUID) ([]model.Summary, error) {
	raw, err := r.rdb.LRange(ctx, keySummariesPrefix+statsID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	out := make([]model.Summary, 0, len(raw))
	for _, s := range raw {
		var sm model.Summary
		if err := json.Unmarshal([]byte(s), &sm); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		out = append(out, sm)
	}
	return out, nil
}

func plotKey(statsID uuid.UUID, typ model.PlotType) string {
	return keyPlotPrefix + statsID.String() + ":" + string(typ)
}

func (r *RedisStore) SavePlot(ctx context.Context, p *model.Plot) error {
	return r.putJSON(ctx, plotKey(p.StatsID, p.Type), p)
}

func (r *RedisStore) GetPlot(ctx context.Context, statsID uuid.UUID, typ model.PlotType) (*model.Plot, error) {
	var p model.Plot
	if err := r.getJSON(ctx, plotKey(statsID, typ), &p); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPlotNotFound
		}
		return nil, fmt.Errorf("get plot: %w", err)
	}
	return &p, nil
}

// ── Query log ────────────────────────────────────────────────────────────

func (r *RedisStore) RecordQuery(ctx context.Context, q *model.DNSQuery) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal dns query: %w", err)
	}
	if err := r.rdb.ZAdd(ctx, keyQueries, &redis.Z{Score: score(q.Timestamp), Member: data}).Err(); err != nil {
		return fmt.Errorf("insert dns query: %w", err)
	}
	return nil
}

func (r *RedisStore) ListQueries(ctx context.Context, from, to time.Time) ([]model.DNSQuery, error) {
	raw, err := r.rdb.ZRangeByScore(ctx, keyQueries, &redis.ZRangeBy{
		Min: scoreArg(from),
		Max: scoreArg(to),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list dns queries: %w", err)
	}
	out := make([]model.DNSQuery, 0, len(raw))
	for _, s := range raw {
		var q model.DNSQuery
		if err := json.Unmarshal([]byte(s), &q); err != nil {
			return nil, fmt.Errorf("decode dns query: %w", err)
		}
		out = append(out, q)
	}
	return out, nil
}

func (r *RedisStore) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := r.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
