package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/jmerrifield20/digaas/internal/observer/model"
)

// BadgerStore is an embedded on-disk store. Values are JSON; query log keys
// embed a zero-padded timestamp so prefix iteration returns them in order.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger database at path. An empty path
// opens an in-memory database.
func OpenBadger(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Clean(path)).WithValueLogFileSize(1 << 24)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func bObserverKey(id uuid.UUID) []byte { return []byte("observer:" + id.String()) }
func bStatsKey(id uuid.UUID) []byte    { return []byte("stats:" + id.String()) }
func bSummaryPrefix(id uuid.UUID) []byte {
	return []byte("summary:" + id.String() + ":")
}
func bPlotKey(id uuid.UUID, typ model.PlotType) []byte {
	return []byte("plot:" + id.String() + ":" + string(typ))
}
func bQueryKey(q *model.DNSQuery) []byte {
	return []byte(fmt.Sprintf("query:%020d:%s", q.Timestamp.UnixNano(), q.ID))
}

func (s *BadgerStore) Create(_ context.Context, o *model.Observer) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, bObserverKey(o.ID), o)
	})
}

// Update replaces the stored observer unless it is already terminal.
// Conflicting transactions are retried.
func (s *BadgerStore) Update(_ context.Context, o *model.Observer) error {
	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			var cur model.Observer
			if err := getJSON(txn, bObserverKey(o.ID), &cur); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return ErrObserverNotFound
				}
				return err
			}
			if cur.Status.Terminal() {
				return ErrObserverFinal
			}
			return setJSON(txn, bObserverKey(o.ID), o)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil && !errors.Is(err, ErrObserverNotFound) && !errors.Is(err, ErrObserverFinal) {
		return fmt.Errorf("update observer: %w", err)
	}
	return err
}

func (s *BadgerStore) GetByID(_ context.Context, id uuid.UUID) (*model.Observer, error) {
	var o model.Observer
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, bObserverKey(id), &o)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrObserverNotFound
		}
		return nil, fmt.Errorf("get observer: %w", err)
	}
	return &o, nil
}

func (s *BadgerStore) ListByStartTime(_ context.Context, from, to time.Time) ([]*model.Observer, error) {
	out, err := s.scanObservers(func(o *model.Observer) bool {
		return !o.StartTime.Before(from) && !o.StartTime.After(to)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *BadgerStore) ListAccepted(_ context.Context, acceptedBefore time.Time) ([]*model.Observer, error) {
	return s.scanObservers(func(o *model.Observer) bool {
		return o.Status == model.StatusAccepted && o.AcceptedAt.Before(acceptedBefore)
	})
}

func (s *BadgerStore) scanObservers(keep func(*model.Observer) bool) ([]*model.Observer, error) {
	var out []*model.Observer
	err := s.db.View(func(txn *badger.Txn) error {
		return iterate(txn, []byte("observer:"), func(v []byte) error {
			var o model.Observer
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if keep(&o) {
				out = append(out, &o)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list observers: %w", err)
	}
	return out, nil
}

// ── Stats requests ───────────────────────────────────────────────────────

func (s *BadgerStore) CreateStats(_ context.Context, st *model.ObserverStats) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, bStatsKey(st.ID), st)
	})
}

func (s *BadgerStore) UpdateStats(_ context.Context, st *model.ObserverStats) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(bStatsKey(st.ID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrStatsNotFound
			}
			return err
		}
		return setJSON(txn, bStatsKey(st.ID), st)
	})
}

func (s *BadgerStore) GetStats(_ context.Context, id uuid.UUID) (*model.ObserverStats, error) {
	var st model.ObserverStats
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, bStatsKey(id), &st)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrStatsNotFound
		}
		return nil, fmt.Errorf("get stats request: %w", err)
	}
	return &st, nil
}

func (s *BadgerStore) SaveSummaries(_ context.Context, statsID uuid.UUID, summaries []model.Summary) error {
	return s.db.Update(func(txn *badger.Txn) error {
		prefix := bSummaryPrefix(statsID)
		for _, sm := range summaries {
			sm.StatsID = statsID
			key := append(append([]byte(nil), prefix...), []byte(string(sm.View)+":"+sm.Key)...)
			if err := setJSON(txn, key, sm); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) ListSummaries(_ context.Context, statsID uuid.UUID) ([]model.Summary, error) {
	var out []model.Summary
	err := s.db.View(func(txn *badger.Txn) error {
		return iterate(txn, bSummaryPrefix(statsID), func(v []byte) error {
			var sm model.Summary
			if err := json.Unmarshal(v, &sm); err != nil {
				return err
			}
			out = append(out, sm)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) SavePlot(_ context.Context, p *model.Plot) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, bPlotKey(p.StatsID, p.Type), p)
	})
}

func (s *BadgerStore) GetPlot(_ context.Context, statsID uuid.UUID, typ model.PlotType) (*model.Plot, error) {
	var p model.Plot
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, bPlotKey(statsID, typ), &p)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrPlotNotFound
		}
		return nil, fmt.Errorf("get plot: %w", err)
	}
	return &p, nil
}

// ── Query log ────────────────────────────────────────────────────────────

func (s *BadgerStore) RecordQuery(_ context.Context, q *model.DNSQuery) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, bQueryKey(q), q)
	})
}

func (s *BadgerStore) ListQueries(_ context.Context, from, to time.Time) ([]model.DNSQuery, error) {
	var out []model.DNSQuery
	err := s.db.View(func(txn *badger.Txn) error {
		return iterate(txn, []byte("query:"), func(v []byte) error {
			var q model.DNSQuery
			if err := json.Unmarshal(v, &q); err != nil {
				return err
			}
			if !q.Timestamp.Before(from) && !q.Timestamp.After(to) {
				out = append(out, q)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list dns queries: %w", err)
	}
	return out, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(b []byte) error {
		return json.Unmarshal(b, v)
	})
}

func iterate(txn *badger.Txn, prefix []byte, fn func(v []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}
