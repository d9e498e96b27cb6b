// Command migrate applies the state-store schema.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joystream/youtube-synch-go/internal/config"
	"github.com/joystream/youtube-synch-go/internal/db"
)

func main() {
	configPath := flag.String("configPath", "", "path to the configuration document")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("schema applied")
}
