package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/vitos/coin_listing_tracker/internal/infrastructure/storage"
)

func main() {
	path := "coins.db"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	n, err := store.Count(ctx)
	if err != nil {
		fmt.Printf("Failed to count snapshots: %v\n", err)
		os.Exit(1)
	}

	top, err := store.LatestRanked(ctx, 10)
	if err != nil {
		fmt.Printf("Failed to list latest pass: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d snapshots\n", path, n)
	if len(top) == 0 {
		fmt.Println("No ranked pass stored yet")
		return
	}

	fmt.Printf("Top %d of pass %s:\n", len(top), top[0].ObservedAt.Format("2006-01-02 15:04:05"))
	for _, c := range top {
		price := "-"
		if c.PriceUSD != nil {
			price = strconv.FormatFloat(*c.PriceUSD, 'f', -1, 64)
		}
		fmt.Printf("- #%d %s (%s) id=%d price=%s\n", *c.Rank, c.Name, c.Symbol, c.ID, price)
	}
}
