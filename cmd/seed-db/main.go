package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/harvest-fulfillment/db"
	"github.com/xenking/harvest-fulfillment/internal/domain/product"
	"github.com/xenking/harvest-fulfillment/internal/domain/user"
	"github.com/xenking/harvest-fulfillment/internal/repository"
)

type catalogJSON struct {
	Users []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Role        string `json:"role"`
		PhoneNumber string `json:"phoneNumber"`
	} `json:"users"`
	Products []struct {
		ID                   string          `json:"id"`
		VendorID             string          `json:"vendorId"`
		Name                 string          `json:"name"`
		UnitPrice            decimal.Decimal `json:"unitPrice"`
		QuantityAvailable    int             `json:"quantityAvailable"`
		MinimumOrderQuantity int             `json:"minimumOrderQuantity"`
		Status               string          `json:"status"`
	} `json:"products"`
}

type catalog struct {
	users    []user.User
	products []product.Product
}

func main() {
	var (
		databaseURL string
		catalogFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "catalog JSON file; the embedded demo catalog is used when empty")
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

	if err := run(ctx, databaseURL, catalogFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string) error {
	raw := db.SeedCatalog
	if catalogFile != "" {
		slog.Info("reading catalog file", slog.String("path", catalogFile))
		data, err := os.ReadFile(catalogFile)
		if err != nil {
			return errors.Wrap(err, "read catalog file")
		}
		raw = data
	}
	c, err := parseCatalog(raw)
	if err != nil {
		return errors.Wrap(err, "parse catalog")
	}

	slog.Info("connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Users first: products reference their vendor.
	if err := repository.NewUserRepository(pool).Upsert(ctx, c.users); err != nil {
		return errors.Wrap(err, "upsert users")
	}
	slog.Info("upserted users", slog.Int("count", len(c.users)))

	if err := repository.NewProductRepository(pool).Upsert(ctx, c.products); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	slog.Info("upserted products", slog.Int("count", len(c.products)))

	return nil
}

// parseCatalog decodes and checks the catalog before anything is written.
func parseCatalog(data []byte) (catalog, error) {
	var in catalogJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return catalog{}, errors.Wrap(err, "decode JSON")
	}

	var out catalog
	vendors := make(map[string]bool)
	for _, u := range in.Users {
		role := user.Role(u.Role)
		if role != user.RoleBuyer && role != user.RoleVendor {
			return catalog{}, errors.Errorf("user %s: unknown role %q", u.ID, u.Role)
		}
		if role == user.RoleVendor {
			vendors[u.ID] = true
		}
		out.users = append(out.users, user.User{
			ID:          u.ID,
			Name:        u.Name,
			Role:        role,
			PhoneNumber: u.PhoneNumber,
		})
	}

	for _, p := range in.Products {
		if !vendors[p.VendorID] {
			return catalog{}, errors.Errorf("product %s: vendor %q is not a seeded vendor", p.ID, p.VendorID)
		}
		status := product.Status(p.Status)
		switch status {
		case product.StatusActive, product.StatusInactive, product.StatusSoldOut, product.StatusDraft:
		default:
			return catalog{}, errors.Errorf("product %s: unknown status %q", p.ID, p.Status)
		}
		if p.QuantityAvailable < 0 || p.MinimumOrderQuantity < 1 || p.UnitPrice.IsNegative() {
			return catalog{}, errors.Errorf("product %s: invalid quantity, minimum or price", p.ID)
		}
		out.products = append(out.products, product.Product{
			ID:                   p.ID,
			VendorID:             p.VendorID,
			Name:                 p.Name,
			UnitPrice:            p.UnitPrice,
			QuantityAvailable:    p.QuantityAvailable,
			MinimumOrderQuantity: p.MinimumOrderQuantity,
			Status:               status,
		})
	}
	return out, nil
}
