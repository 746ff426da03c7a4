// seed is a one-shot tool to load demo master data into an empty database.
// Run it after migrations when setting up a development environment.
//
// Usage: go run ./cmd/seed
package main

import (
	"context"
	"log"

	"distro-backend/internal/config"
	"distro-backend/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, config.Load().DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	log.Println("Seeding suppliers...")
	_, err = tx.Exec(ctx, `
		INSERT INTO suppliers (code, name, phone, address) VALUES
		('S001', 'Medico Distributors', '+92-300-0000001', 'Lahore'),
		('S002', 'Prime Traders',       '+92-300-0000002', 'Karachi'),
		('S003', 'Alfa Pharma Supply',  '+92-300-0000003', 'Faisalabad')
		ON CONFLICT (code) DO UPDATE
		  SET name = EXCLUDED.name,
		      phone = EXCLUDED.phone,
		      address = EXCLUDED.address;
	`)
	if err != nil {
		log.Fatalf("Failed to seed suppliers: %v", err)
	}

	log.Println("Seeding customers...")
	_, err = tx.Exec(ctx, `
		INSERT INTO customers (code, name, phone, address, previous_balance) VALUES
		('C001', 'City Pharmacy',    '+92-300-1000001', 'Mall Road',     0),
		('C002', 'Valley Medicos',   '+92-300-1000002', 'Main Bazar',    1500),
		('C003', 'Green Cross Store','+92-300-1000003', 'Canal Colony',  0)
		ON CONFLICT (code) DO UPDATE
		  SET name = EXCLUDED.name,
		      phone = EXCLUDED.phone,
		      address = EXCLUDED.address;
	`)
	if err != nil {
		log.Fatalf("Failed to seed customers: %v", err)
	}

	log.Println("Seeding items...")
	_, err = tx.Exec(ctx, `
		INSERT INTO items (code, name, base_unit, pack_size) VALUES
		('IT001', 'Amoxil 250mg Capsule', 'capsule', 10),
		('IT002', 'Panadol Syrup 120ml',  'bottle',  12),
		('IT003', 'Brufen 400mg Tablet',  'tablet',  20),
		('IT004', 'Surgical Gloves M',    'pair',    50)
		ON CONFLICT (code) DO UPDATE
		  SET name = EXCLUDED.name,
		      base_unit = EXCLUDED.base_unit,
		      pack_size = EXCLUDED.pack_size;
	`)
	if err != nil {
		log.Fatalf("Failed to seed items: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit seed: %v", err)
	}
	log.Println("Seed complete.")
}
