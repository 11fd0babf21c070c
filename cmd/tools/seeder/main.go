package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedStock(db)
	seedPromoCodes(db)
	seedShippingRules(db)

	log.Println("Seeding completed successfully!")
}

func seedStock(db *sql.DB) {
	records := []struct {
		ProductID string
		Location  string
		Stock     int64
	}{
		{"0d4f8a46-1111-4d1a-9a01-000000000001", "default", 120},
		{"0d4f8a46-1111-4d1a-9a01-000000000002", "default", 45},
		{"0d4f8a46-1111-4d1a-9a01-000000000003", "default", 8},
		{"0d4f8a46-1111-4d1a-9a01-000000000004", "atelier", 300},
	}

	fmt.Println("Seeding stock records...")
	for _, rec := range records {
		_, err := db.Exec(`
			INSERT INTO stock_records (product_id, location, stock)
			VALUES ($1, $2, $3)
			ON CONFLICT (product_id, location, COALESCE(variant_id, '00000000-0000-0000-0000-000000000000'::uuid))
			DO UPDATE SET stock = EXCLUDED.stock, updated_at = now();
		`, rec.ProductID, rec.Location, rec.Stock)
		if err != nil {
			log.Printf("Failed to seed stock for %s: %v", rec.ProductID, err)
		}
	}
}

func seedPromoCodes(db *sql.DB) {
	codes := []struct {
		Code       string
		Kind       string
		Value      int64
		PercentBps *int32
		MinSpend   int64
	}{
		{"BIENVENUE10", "percentage", 0, int32Ptr(1000), 3000},
		{"NOEL5", "fixed", 500, nil, 2000},
		{"FRAISDEPORT", "fixed", 700, nil, 0},
	}

	fmt.Println("Seeding promo codes...")
	for _, c := range codes {
		_, err := db.Exec(`
			INSERT INTO promo_codes (code, kind, value, percent_bps, min_purchase, valid_from, valid_until, active)
			VALUES ($1, $2, $3, $4, $5, NOW(), NOW() + INTERVAL '1 year', true)
			ON CONFLICT (code) DO NOTHING;
		`, c.Code, c.Kind, c.Value, c.PercentBps, c.MinSpend)
		if err != nil {
			log.Printf("Failed to seed promo code %s: %v", c.Code, err)
		}
	}
}

func seedShippingRules(db *sql.DB) {
	fmt.Println("Seeding shipping rules...")
	_, err := db.Exec(`
		INSERT INTO shipping_price_rules
			(name, kind, shipping_type, country, weight_ranges, free_shipping_threshold, active)
		VALUES
			('Colissimo domicile FR', 'weight_ranges', 'home', 'FR',
			 '[{"min":0,"max":2000,"price":500},{"min":2000,"max":5000,"price":800},{"min":5000,"max":null,"price":1200}]'::jsonb,
			 6000, true),
			('Point relais FR', 'fixed', 'relay', 'FR', NULL, 5000, true)
		ON CONFLICT DO NOTHING;
	`)
	if err != nil {
		log.Printf("Failed to seed shipping rules: %v", err)
	}

	_, err = db.Exec(`
		UPDATE shipping_price_rules SET fixed_price = 400
		WHERE name = 'Point relais FR' AND fixed_price IS NULL;
	`)
	if err != nil {
		log.Printf("Failed to backfill relay price: %v", err)
	}
}

func int32Ptr(v int32) *int32 { return &v }
