package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"alcptprep"

	"github.com/joho/godotenv"
)

func main() {
	dataDir := flag.String("data", "data", "directory of test files (.json or .xlsx)")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	alcptprep.SetVerbose(*verbose)

	driver, dsn := "sqlite3", "./alcpt.db"
	if url := os.Getenv("DATABASE_URL"); url != "" {
		driver, dsn = "postgres", url
	}

	store, err := alcptprep.OpenStore(driver, dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	loaded, err := store.LoadTestData(context.Background(), *dataDir)
	if err != nil {
		log.Fatalf("Failed to load test data: %v", err)
	}

	if len(loaded) == 0 {
		fmt.Println("No new test files to load.")
		return
	}
	fmt.Printf("Loaded %d test file(s):\n", len(loaded))
	for _, name := range loaded {
		fmt.Printf("  %s\n", name)
	}
}
