package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/harvest-fulfillment/internal/repository"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	// Restocks larger than this per line are treated as typos.
	maxLineQuantity = 1_000_000
)

// fileStats summarises one scanned file.
type fileStats struct {
	lines    int
	unknown  int
	invalid  int
	products int
}

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing restock files")
	flag.StringVar(&pattern, "pattern", "restock*.csv.gz", "glob of gzip files with product_id,quantity lines")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "scan files and report without writing")
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

	if err := run(ctx, filepath.Join(dataDir, pattern), databaseURL, dryRun); err != nil {
		slog.Error("stock import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("stock import completed successfully")
}

func run(ctx context.Context, glob, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(glob)
	if err != nil {
		return errors.Wrap(err, "match files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", glob)
	}

	slog.Info("connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	products := repository.NewProductRepository(pool)
	ids, err := products.ListIDs(ctx)
	if err != nil {
		return errors.Wrap(err, "list catalog ids")
	}
	known := catalogFilter(ids)
	slog.Info("catalog loaded", slog.Int("products", len(ids)), slog.Int("files", len(files)))

	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			quantities, stats, err := scanFile(ctx, path, known)
			if err != nil {
				return err
			}
			slog.Info("file scanned",
				slog.String("file", path),
				slog.Int("lines", stats.lines),
				slog.Int("products", stats.products),
				slog.Int("unknown", stats.unknown),
				slog.Int("invalid", stats.invalid),
			)
			if dryRun || len(quantities) == 0 {
				return nil
			}

			// Bloom false positives simply match no row.
			updated, err := products.Restock(ctx, quantities)
			if err != nil {
				return errors.Wrapf(err, "restock from %s", path)
			}
			slog.Info("file applied", slog.String("file", path), slog.Int64("updated", updated))
			return nil
		})
	}
	return g.Wait()
}

func catalogFilter(ids []string) *bloom.BloomFilter {
	f := bloom.NewWithEstimates(uint(max(len(ids), 1)), bloomFPR)
	for _, id := range ids {
		f.AddString(id)
	}
	return f
}

// scanFile sums quantities per known product in one gzip file.
func scanFile(ctx context.Context, path string, known *bloom.BloomFilter) (map[string]int, fileStats, error) {
	var (
		stats    fileStats
		overflow string
	)
	quantities := make(map[string]int)

	err := streamGzFile(ctx, path, func(line string) {
		stats.lines++
		if stats.lines%progressEvery == 0 {
			slog.Info("scan progress", slog.String("file", path), slog.Int("lines", stats.lines))
		}

		id, qty, ok := parseLine(line)
		switch {
		case !ok:
			stats.invalid++
		case id == "":
			// Blank, comment or header line.
		case !known.TestString(id):
			stats.unknown++
		case quantities[id] > math.MaxInt32-qty:
			if overflow == "" {
				overflow = id
			}
		default:
			quantities[id] += qty
		}
	})
	if err != nil {
		return nil, stats, errors.Wrapf(err, "scan %s", path)
	}
	if overflow != "" {
		return nil, stats, errors.Errorf("scan %s: restock total for %q exceeds %d", path, overflow, math.MaxInt32)
	}
	stats.products = len(quantities)
	return quantities, stats, nil
}

// parseLine parses "product_id,quantity". Blank lines, # comments and the
// header row return ok with an empty id.
func parseLine(line string) (id string, qty int, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", 0, true
	}
	rawID, rawQty, found := strings.Cut(line, ",")
	if !found {
		return "", 0, false
	}
	id, rawQty = strings.TrimSpace(rawID), strings.TrimSpace(rawQty)
	if strings.EqualFold(id, "product_id") {
		return "", 0, true
	}
	qty, err := strconv.Atoi(rawQty)
	if err != nil || id == "" || qty <= 0 || qty > maxLineQuantity {
		return "", 0, false
	}
	return id, qty, true
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
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
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
