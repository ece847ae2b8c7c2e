// Command seed-db loads an initial catalog, a default set of promo rules,
// and API keys into the database. Intended for development and test setups.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/openmart/orders-api/internal/repository"
)

type seedProduct struct {
	ID           string
	Name         string
	SKU          string
	Price        decimal.Decimal
	SalePrice    *decimal.Decimal
	Stock        int
	StockManaged bool
	Active       bool
	Image        string
}

func main() {
	var (
		databaseURL  string
		productsFile string
		adminKey     string
		customerKey  string
		customerUser string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&adminKey, "admin-key", "", "admin API key to seed (or SHOP_SEED_ADMIN_KEY env)")
	flag.StringVar(&customerKey, "customer-key", "", "customer API key to seed (or SHOP_SEED_CUSTOMER_KEY env)")
	flag.StringVar(&customerUser, "customer-user", "", "user id bound to the customer key")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("SHOP_SEED_ADMIN_KEY")
	}
	if customerKey == "" {
		customerKey = os.Getenv("SHOP_SEED_CUSTOMER_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, adminKey, customerKey, customerUser, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, adminKey, customerKey, customerUser, pepper string) error {
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

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedPromoCodes(ctx, pool); err != nil {
		return errors.Wrap(err, "seed promo codes")
	}
	if adminKey != "" {
		if err := seedAPIKey(ctx, pool, adminKey, pepper, "seed-admin", "", "admin"); err != nil {
			return errors.Wrap(err, "seed admin key")
		}
	}
	if customerKey != "" {
		if customerUser == "" {
			customerUser = uuid.New().String()
		}
		if err := seedAPIKey(ctx, pool, customerKey, pepper, "seed-customer", customerUser, "customer"); err != nil {
			return errors.Wrap(err, "seed customer key")
		}
	}
	return nil
}

// seedProducts streams the products file instead of materializing it, so
// large catalog dumps do not need to fit in memory twice.
func seedProducts(ctx context.Context, pool *pgxpool.Pool, path string) error {
	slog.Info("reading products file", slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open products file")
	}
	defer f.Close()

	count := 0
	d := jx.Decode(f, 4096)
	if err := d.Arr(func(d *jx.Decoder) error {
		p, err := decodeProduct(d)
		if err != nil {
			return err
		}
		_, err = pool.Exec(ctx, `INSERT INTO products
			(id, name, sku, price, sale_price, stock, stock_managed, active, image)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, sku = EXCLUDED.sku,
				price = EXCLUDED.price, sale_price = EXCLUDED.sale_price,
				stock = EXCLUDED.stock, stock_managed = EXCLUDED.stock_managed,
				active = EXCLUDED.active, image = EXCLUDED.image, updated_at = now()`,
			p.ID, p.Name, p.SKU, p.Price, p.SalePrice, p.Stock, p.StockManaged, p.Active, p.Image)
		if err != nil {
			return errors.Wrapf(err, "insert product %s", p.ID)
		}
		count++
		return nil
	}); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("products seeded", slog.Int("count", count))
	return nil
}

func decodeProduct(d *jx.Decoder) (seedProduct, error) {
	p := seedProduct{StockManaged: true, Active: true}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "sku":
			p.SKU, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "sale_price":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var sp decimal.Decimal
			if sp, err = decodeDecimal(d); err == nil {
				p.SalePrice = &sp
			}
		case "stock":
			p.Stock, err = d.Int()
		case "stock_managed":
			p.StockManaged, err = d.Bool()
		case "active":
			p.Active, err = d.Bool()
		case "image":
			p.Image, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return p, err
	}
	if p.ID == "" || p.Name == "" {
		return p, errors.New("product requires id and name")
	}
	return p, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	num, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(num.String())
}

func seedPromoCodes(ctx context.Context, pool *pgxpool.Pool) error {
	type rule struct {
		code, discountType, value, description string
		minItems                               int
		maxUses                                int
	}
	rules := []rule{
		{"WELCOME10", "percentage", "10", "Welcome: 10% off", 0, 0},
		{"FREESHIP", "fixed", "30000", "Shipping on us", 0, 0},
		{"BULKDEAL", "free_lowest", "0", "Cheapest item free (3+ items)", 3, 0},
		{"ONETIME", "percentage", "5", "Single-use: 5% off", 0, 1},
	}
	for _, r := range rules {
		_, err := pool.Exec(ctx, `INSERT INTO promo_codes
			(code, discount_type, value, min_items, max_uses, description)
			VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (code) DO NOTHING`,
			r.code, r.discountType, r.value, r.minItems, r.maxUses, r.description)
		if err != nil {
			return errors.Wrapf(err, "insert promo code %s", r.code)
		}
	}
	slog.Info("promo codes seeded", slog.Int("count", len(rules)))
	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, key, pepper, name, userID, role string) error {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	hash := hex.EncodeToString(mac.Sum(nil))

	var user *string
	if userID != "" {
		user = &userID
	}
	_, err := pool.Exec(ctx, `INSERT INTO api_keys (id, key_hash, name, user_id, role)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (key_hash) DO NOTHING`,
		uuid.New().String(), hash, name, user, role)
	if err != nil {
		return errors.Wrapf(err, "insert api key %s", name)
	}
	slog.Info("api key seeded", slog.String("name", name), slog.String("role", role))
	return nil
}
