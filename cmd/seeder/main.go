// cmd/seeder/main.go
package main

import (
	"context"
	"log"
	"os"

	"github.com/unclebandit/smsleopard-dispatch/internal/config"
	"github.com/unclebandit/smsleopard-dispatch/internal/db"
)

func main() {
	cfg, err := config.LoadSeeder()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DB.DSN(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal(err)
	}
	log.Println("Schema applied")

	for _, file := range cfg.SeedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("failed to read %s: %v", file, err)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.Fatalf("failed to execute %s: %v", file, err)
		}
		log.Printf("Seeded: %s\n", file)
	}

	log.Println("Database seeding completed successfully!")
}
