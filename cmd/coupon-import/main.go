// Command coupon-import bulk-creates coupons from gzip-compressed NDJSON
// files, one coupon definition per line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/validation"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000
	maxLineBytes  = 1 << 20
)

// Creator is the slice of the coupon engine the importer needs.
type Creator interface {
	Create(ctx context.Context, in coupon.CreateInput) (*coupon.Coupon, error)
}

// stats counts import outcomes. Safe for concurrent use.
type stats struct {
	created   atomic.Int64
	repeated  atomic.Int64
	existing  atomic.Int64
	invalid   atomic.Int64
	processed atomic.Int64
}

// seen tracks codes already submitted in this run. A bloom miss proves the
// code is new to the run; a hit only marks it as a possible repeat.
type seen struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

func newSeen(capacity uint) *seen {
	return &seen{filter: bloom.NewWithEstimates(capacity, bloomFPR)}
}

func (s *seen) testAndAdd(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.TestAndAddString(code)
}

func main() {
	var (
		pattern     string
		databaseURL string
		workers     int
	)

	flag.StringVar(&pattern, "files", "data/coupons-*.ndjson.gz", "glob of gzip NDJSON coupon files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 8, "concurrent coupon writers")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, databaseURL, workers); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, pattern, databaseURL string, workers int) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrapf(err, "glob %s", pattern)
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", pattern)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	st, err := importFiles(ctx, coupon.NewEngine(postgres.NewCouponRepository(pool)), files, workers)
	if err != nil {
		return err
	}

	slog.Info("import summary",
		slog.Int64("processed", st.processed.Load()),
		slog.Int64("created", st.created.Load()),
		slog.Int64("repeated", st.repeated.Load()),
		slog.Int64("existing", st.existing.Load()),
		slog.Int64("invalid", st.invalid.Load()),
	)
	return nil
}

// importFiles streams every file concurrently and feeds decoded coupons to
// a bounded pool of writers.
func importFiles(ctx context.Context, c Creator, files []string, workers int) (*stats, error) {
	if workers < 1 {
		workers = 1
	}
	var (
		st    = &stats{}
		dedup = newSeen(bloomCapacity)
		queue = make(chan coupon.CreateInput, workers*4)
	)

	readers, rctx := errgroup.WithContext(ctx)
	writers, wctx := errgroup.WithContext(rctx)

	for i := range workers {
		writers.Go(func() error {
			for in := range queue {
				if err := write(wctx, c, in, dedup, st); err != nil {
					return errors.Wrapf(err, "writer %d", i)
				}
			}
			return nil
		})
	}

	for _, path := range files {
		readers.Go(func() error {
			return streamFile(rctx, path, func(in coupon.CreateInput) error {
				select {
				case queue <- in:
					return nil
				case <-wctx.Done():
					return wctx.Err()
				}
			}, st)
		})
	}

	readErr := readers.Wait()
	close(queue)
	writeErr := writers.Wait()
	if readErr != nil {
		return st, readErr
	}
	if writeErr != nil {
		return st, writeErr
	}
	return st, nil
}

func write(ctx context.Context, c Creator, in coupon.CreateInput, dedup *seen, st *stats) error {
	code := coupon.NormalizeCode(in.Code)
	maybeRepeat := dedup.testAndAdd(code)

	_, err := c.Create(ctx, in)
	var verr *validation.Error
	switch {
	case err == nil:
		st.created.Add(1)
	case errors.Is(err, coupon.ErrCodeTaken) && maybeRepeat:
		st.repeated.Add(1)
	case errors.Is(err, coupon.ErrCodeTaken):
		st.existing.Add(1)
	case errors.As(err, &verr):
		st.invalid.Add(1)
		slog.Warn("invalid coupon", slog.String("code", code), slog.String("error", verr.Error()))
	default:
		return errors.Wrapf(err, "create coupon %s", code)
	}

	if n := st.processed.Add(1); n%progressEvery == 0 {
		slog.Info("import progress", slog.Int64("processed", n), slog.Int64("created", st.created.Load()))
	}
	return nil
}

// streamFile opens a gzip-compressed NDJSON file and calls fn for each
// decoded coupon. Blank lines are skipped, undecodable ones counted.
func streamFile(ctx context.Context, path string, fn func(coupon.CreateInput) error, st *stats) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var line int
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var in coupon.CreateInput
		if err := json.Unmarshal(raw, &in); err != nil {
			st.invalid.Add(1)
			slog.Warn("skipping malformed line",
				slog.String("file", path),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := fn(in); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	slog.Info("file complete", slog.String("file", path), slog.Int("lines", line))
	return nil
}
