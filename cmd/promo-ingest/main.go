// Command promo-ingest loads bulk promotional code dumps into the
// promo_codes table. Dumps are gzipped text files with one code per line;
// marketing exports routinely contain tens of millions of lines with heavy
// duplication, so codes are deduplicated through a Bloom filter before they
// reach the database.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/openmart/orders-api/internal/repository"
)

const (
	bloomCapacity = 50_000_000
	bloomFPR      = 0.001
	batchSize     = 5_000
	progressEvery = 1_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
)

// defaultRule is applied to every ingested code; named campaign codes are
// managed through seed-db instead.
var defaultRule = struct {
	discountType string
	value        string
	description  string
}{
	discountType: "percentage",
	value:        "10",
	description:  "Promo code: 10% off",
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.gz code dumps")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
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

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list dumps")
	}
	if len(files) == 0 {
		return errors.Errorf("no .gz dumps found in %s", dataDir)
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return ingest(ctx, pool, files)
}

// batchSender is the part of pgxpool.Pool the writer uses.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// ingest fans readers out over the dump files and funnels their codes into a
// single writer goroutine, which owns the Bloom filter so it needs no
// locking. The writer runs in the same errgroup as the readers: a write
// failure cancels the group context and unblocks readers waiting on a full
// channel.
func ingest(ctx context.Context, db batchSender, files []string) error {
	codes := make(chan string, 4*batchSize)

	g, ctx := errgroup.WithContext(ctx)

	readers, readerCtx := errgroup.WithContext(ctx)
	for _, file := range files {
		readers.Go(func() error {
			return readDump(readerCtx, file, codes)
		})
	}
	g.Go(func() error {
		defer close(codes)
		return readers.Wait()
	})
	g.Go(func() error {
		return writeCodes(ctx, db, codes)
	})
	return g.Wait()
}

// readDump streams one gzipped dump, discarding malformed lines.
func readDump(ctx context.Context, path string, codes chan<- string) error {
	slog.Info("reading dump", slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gunzip %s", path)
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		code := scanner.Text()
		if !validCode(code) {
			continue
		}
		select {
		case codes <- code:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Wrapf(scanner.Err(), "scan %s", path)
}

// writeCodes dedupes incoming codes through the Bloom filter and inserts
// them in batches. ON CONFLICT DO NOTHING makes re-runs idempotent.
func writeCodes(ctx context.Context, db batchSender, codes <-chan string) error {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)

	var (
		batch pgx.Batch
		total int
	)
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := db.SendBatch(ctx, &batch).Close(); err != nil {
			return errors.Wrap(err, "insert batch")
		}
		batch = pgx.Batch{}
		return nil
	}

	for code := range codes {
		if filter.TestOrAdd([]byte(code)) {
			continue
		}
		batch.Queue(`INSERT INTO promo_codes (code, discount_type, value, description)
			VALUES ($1, $2, $3, $4) ON CONFLICT (code) DO NOTHING`,
			code, defaultRule.discountType, defaultRule.value, defaultRule.description)
		if batch.Len() >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
		if total++; total%progressEvery == 0 {
			slog.Info("progress", slog.Int("unique_codes", total))
		}
	}
	if err := flush(); err != nil {
		return err
	}

	slog.Info("codes ingested", slog.Int("unique", total))
	return nil
}

// validCode accepts uppercase alphanumeric codes of 8 to 10 characters.
func validCode(code string) bool {
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
