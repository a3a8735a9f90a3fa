package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/tollgate/internal/model"
	"github.com/mmeshcher/tollgate/internal/validation"
)

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

type stubRepo struct {
	mu sync.Mutex

	active    map[int64]struct{}
	lookupErr error

	rows      []model.UsageInput
	nextID    int64
	insertErr error
	copyErr   error

	// honorCtx заставляет запись и поиск площадок завершаться ошибкой отменённого контекста.
	honorCtx bool

	insertCalls int
	copyCalls   int

	plazas []model.Plaza
	stats  *model.UsageStats

	statsCalls int
}

func newStubRepo(activeIDs ...int64) *stubRepo {
	active := make(map[int64]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = struct{}{}
	}
	return &stubRepo{active: active}
}

func (s *stubRepo) ActivePlazaIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	if err := s.ctxErr(ctx); err != nil {
		return nil, err
	}
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	out := map[int64]struct{}{}
	for _, id := range ids {
		if _, ok := s.active[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (s *stubRepo) InsertUsages(ctx context.Context, usages []model.UsageInput) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertCalls++
	if err := s.ctxErr(ctx); err != nil {
		return nil, err
	}
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	ids := make([]int64, 0, len(usages))
	for _, u := range usages {
		s.nextID++
		ids = append(ids, s.nextID)
		s.rows = append(s.rows, u)
	}
	return ids, nil
}

func (s *stubRepo) CopyUsages(ctx context.Context, usages []model.UsageInput) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.copyCalls++
	if err := s.ctxErr(ctx); err != nil {
		return 0, err
	}
	if s.copyErr != nil {
		return 0, s.copyErr
	}
	s.rows = append(s.rows, usages...)
	return len(usages), nil
}

func (s *stubRepo) ListPlazas(ctx context.Context) ([]model.Plaza, error) {
	return s.plazas, nil
}

func (s *stubRepo) UsageStats(ctx context.Context, now time.Time) (*model.UsageStats, error) {
	s.statsCalls++
	return s.stats, nil
}

func (s *stubRepo) ctxErr(ctx context.Context) error {
	if !s.honorCtx {
		return nil
	}
	return ctx.Err()
}

func (s *stubRepo) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func usage(plazaID int64) model.UsageInput {
	return model.UsageInput{
		UsedAt:       testNow.Add(-time.Hour),
		PlazaID:      plazaID,
		City:         "campinas ",
		State:        "sp",
		AmountPaid:   decimal.RequireFromString("8.90"),
		VehicleClass: model.VehicleCar,
	}
}

func usages(n int, plazaID int64) []model.UsageInput {
	out := make([]model.UsageInput, n)
	for i := range out {
		out[i] = usage(plazaID)
	}
	return out
}

func newTestService(repo Repository, opts Options) *Service {
	svc := NewService(repo, zap.NewNop(), opts)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestRouter_Threshold(t *testing.T) {
	tests := []struct {
		name         string
		size         int
		wantStrategy Strategy
		wantInsert   int
		wantCopy     int
	}{
		{name: "single", size: 1, wantStrategy: StrategyDirect, wantInsert: 1},
		{name: "at threshold", size: 100, wantStrategy: StrategyDirect, wantInsert: 1},
		{name: "above threshold", size: 101, wantStrategy: StrategyBulk, wantCopy: 1},
		{name: "large", size: 5000, wantStrategy: StrategyBulk, wantCopy: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStubRepo(1)
			r := NewRouter(repo, repo, nil)

			res, err := r.Route(context.Background(), usages(tt.size, 1))
			require.NoError(t, err)

			assert.Equal(t, tt.wantStrategy, res.Strategy)
			assert.Equal(t, tt.size, res.Written)
			assert.Equal(t, tt.wantInsert, repo.insertCalls)
			assert.Equal(t, tt.wantCopy, repo.copyCalls)
		})
	}
}

func TestRouter_PropagatesErrors(t *testing.T) {
	boom := errors.New("storage down")

	repo := newStubRepo(1)
	repo.copyErr = boom
	_, err := NewRouter(repo, repo, nil).Route(context.Background(), usages(101, 1))
	assert.ErrorIs(t, err, boom)

	repo = newStubRepo(1)
	repo.insertErr = boom
	_, err = NewRouter(repo, repo, nil).Route(context.Background(), usages(100, 1))
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, repo.rowCount())
}

func TestRouter_EmptyBatchWritesNothing(t *testing.T) {
	repo := newStubRepo()
	res, err := NewRouter(repo, repo, nil).Route(context.Background(), nil)

	require.NoError(t, err)
	assert.Zero(t, res.Written)
	assert.Zero(t, repo.insertCalls)
}

func TestIngestSingle(t *testing.T) {
	t.Run("accepted and normalized", func(t *testing.T) {
		repo := newStubRepo(7)
		svc := newTestService(repo, Options{})

		acc, err := svc.IngestSingle(context.Background(), usage(7))
		require.NoError(t, err)

		assert.Equal(t, int64(1), acc.ID)
		assert.False(t, acc.ProcessedAt.Before(testNow))
		require.Len(t, repo.rows, 1)
		assert.Equal(t, "CAMPINAS", repo.rows[0].City)
		assert.Equal(t, "SP", repo.rows[0].State)
	})

	t.Run("inactive plaza aborts", func(t *testing.T) {
		repo := newStubRepo(7)
		svc := newTestService(repo, Options{})

		_, err := svc.IngestSingle(context.Background(), usage(8))
		assert.ErrorIs(t, err, model.ErrPlazaNotFound)
		assert.Zero(t, repo.insertCalls)
	})

	t.Run("validation error lists fields", func(t *testing.T) {
		repo := newStubRepo(7)
		svc := newTestService(repo, Options{})

		in := usage(7)
		in.AmountPaid = decimal.Zero
		in.UsedAt = testNow.Add(time.Hour)

		_, err := svc.IngestSingle(context.Background(), in)

		var verr *validation.Error
		require.ErrorAs(t, err, &verr)
		assert.Len(t, verr.Violations, 2)
		assert.Zero(t, repo.insertCalls)
	})
}

func TestIngestBatch_PartialSuccess(t *testing.T) {
	repo := newStubRepo(1, 2)
	svc := newTestService(repo, Options{})

	in := []model.UsageInput{usage(1), usage(999), usage(2)}

	outcome, err := svc.IngestBatch(context.Background(), in, "test")
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Processed)
	assert.Equal(t, 1, outcome.Errored)
	assert.Equal(t, []string{"Plaza id 999 not found or inactive"}, outcome.Errors)
	assert.Equal(t, len(in), outcome.Processed+outcome.Errored)
	assert.Equal(t, int64(1), repo.rows[0].PlazaID)
	assert.Equal(t, int64(2), repo.rows[1].PlazaID)
}

func TestIngestBatch_CountsAddUp(t *testing.T) {
	tests := []struct {
		name        string
		valid       int
		unknown     int
		invalid     int
		wantBulk    bool
		wantErrored int
	}{
		{name: "all valid small", valid: 10, wantErrored: 0},
		{name: "mixed small", valid: 50, unknown: 5, invalid: 3, wantErrored: 8},
		{name: "bulk after rejections", valid: 150, unknown: 20, wantBulk: true, wantErrored: 20},
		{name: "rejections drop below threshold", valid: 100, unknown: 30, wantErrored: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStubRepo(1)
			svc := newTestService(repo, Options{})

			in := append(usages(tt.valid, 1), usages(tt.unknown, 2)...)
			for range tt.invalid {
				bad := usage(1)
				bad.State = "XYZ"
				in = append(in, bad)
			}

			outcome, err := svc.IngestBatch(context.Background(), in, "")
			require.NoError(t, err)

			assert.Equal(t, len(in), outcome.Processed+outcome.Errored)
			assert.Equal(t, tt.valid, outcome.Processed)
			assert.Equal(t, tt.wantErrored, outcome.Errored)
			assert.Len(t, outcome.Errors, tt.wantErrored)
			assert.Equal(t, tt.wantBulk, repo.copyCalls == 1)
		})
	}
}

func TestIngestBatch_RejectsSize(t *testing.T) {
	svc := newTestService(newStubRepo(1), Options{})

	_, err := svc.IngestBatch(context.Background(), nil, "")

	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
}

func TestIngestBatch_ResubmissionDuplicatesRows(t *testing.T) {
	repo := newStubRepo(1)
	svc := newTestService(repo, Options{})
	in := usages(3, 1)

	_, err := svc.IngestBatch(context.Background(), in, "")
	require.NoError(t, err)
	_, err = svc.IngestBatch(context.Background(), in, "")
	require.NoError(t, err)

	assert.Equal(t, 6, repo.rowCount())
}

func TestIngestBatch_StorageFailureFailsWhole(t *testing.T) {
	repo := newStubRepo(1)
	repo.insertErr = errors.New("connection reset")
	svc := newTestService(repo, Options{})

	outcome, err := svc.IngestBatch(context.Background(), usages(3, 1), "")
	assert.Error(t, err)
	assert.Nil(t, outcome)
}

type stubPublisher struct {
	batches []model.Batch
	err     error
}

func (p *stubPublisher) Publish(ctx context.Context, batch model.Batch) error {
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, batch)
	return nil
}

func TestEnqueueBatch(t *testing.T) {
	t.Run("publishes valid batch", func(t *testing.T) {
		pub := &stubPublisher{}
		svc := newTestService(newStubRepo(1), Options{Publisher: pub})

		batch, err := svc.EnqueueBatch(context.Background(), usages(3, 1), "lane-4")
		require.NoError(t, err)

		require.Len(t, pub.batches, 1)
		assert.Equal(t, batch.ID, pub.batches[0].ID)
		assert.Equal(t, "lane-4", pub.batches[0].Origin)
		assert.Equal(t, testNow, batch.SubmittedAt)
	})

	t.Run("any violation blocks the batch", func(t *testing.T) {
		pub := &stubPublisher{}
		svc := newTestService(newStubRepo(1), Options{Publisher: pub})

		in := usages(3, 1)
		in[2].PlazaID = 0

		_, err := svc.EnqueueBatch(context.Background(), in, "")

		var verr *validation.Error
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "usages[2].plazaId", verr.Violations[0].Field)
		assert.Empty(t, pub.batches)
	})

	t.Run("no publisher", func(t *testing.T) {
		svc := newTestService(newStubRepo(1), Options{})

		_, err := svc.EnqueueBatch(context.Background(), usages(1, 1), "")
		assert.ErrorIs(t, err, ErrQueueUnavailable)
	})
}

type stubCache struct {
	stored *model.UsageStats
	ttl    time.Duration
	getErr error
}

func (c *stubCache) GetStats(ctx context.Context) (*model.UsageStats, error) {
	return c.stored, c.getErr
}

func (c *stubCache) SetStats(ctx context.Context, stats *model.UsageStats, ttl time.Duration) error {
	c.stored = stats
	c.ttl = ttl
	return nil
}

func TestStats_UsesCache(t *testing.T) {
	repo := newStubRepo()
	repo.stats = &model.UsageStats{TotalToday: 42}
	cache := &stubCache{}
	svc := newTestService(repo, Options{Cache: cache, StatsTTL: time.Minute})

	first, err := svc.Stats(context.Background())
	require.NoError(t, err)
	second, err := svc.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(42), first.TotalToday)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.statsCalls)
	assert.Equal(t, time.Minute, cache.ttl)
}

func TestStats_CacheFailureFallsBack(t *testing.T) {
	repo := newStubRepo()
	repo.stats = &model.UsageStats{TotalToday: 1}
	svc := newTestService(repo, Options{Cache: &stubCache{getErr: errors.New("redis down")}, StatsTTL: time.Minute})

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalToday)
}

func TestIngest_CallerCancellationDoesNotAbortWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	t.Run("bulk batch", func(t *testing.T) {
		repo := newStubRepo(1)
		repo.honorCtx = true
		svc := newTestService(repo, Options{})

		outcome, err := svc.IngestBatch(ctx, usages(150, 1), "test")
		require.NoError(t, err)
		assert.Equal(t, 150, outcome.Processed)
		assert.Equal(t, 150, repo.rowCount())
		assert.Equal(t, 1, repo.copyCalls)
	})

	t.Run("direct batch", func(t *testing.T) {
		repo := newStubRepo(1)
		repo.honorCtx = true
		svc := newTestService(repo, Options{})

		outcome, err := svc.IngestBatch(ctx, usages(10, 1), "test")
		require.NoError(t, err)
		assert.Equal(t, 10, outcome.Processed)
		assert.Equal(t, 10, repo.rowCount())
	})

	t.Run("single", func(t *testing.T) {
		repo := newStubRepo(1)
		repo.honorCtx = true
		svc := newTestService(repo, Options{})

		acc, err := svc.IngestSingle(ctx, usage(1))
		require.NoError(t, err)
		assert.Equal(t, int64(1), acc.ID)
		assert.Equal(t, 1, repo.rowCount())
	})
}
