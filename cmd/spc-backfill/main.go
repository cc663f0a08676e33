package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/banshee-data/process.report/internal/db"
	"github.com/banshee-data/process.report/internal/spc"
)

func main() {
	var dbPath string
	var charID int64
	var window int
	var minSubgroups int
	var relimit bool

	flag.StringVar(&dbPath, "db", "process_data.db", "path to sqlite db")
	flag.Int64Var(&charID, "char", 0, "characteristic id to backfill (0 = all)")
	flag.IntVar(&window, "window", 0, "history window in subgroups (0 = full history)")
	flag.IntVar(&minSubgroups, "min", 2, "minimum usable subgroups for limit estimation")
	flag.BoolVar(&relimit, "relimit", false, "estimate a fresh limits revision before re-evaluating")
	flag.Parse()

	dbConn, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	w := db.NewSPCWorker(dbConn, window, minSubgroups)

	var chars []db.Characteristic
	if charID != 0 {
		char, err := dbConn.GetCharacteristic(charID)
		if err != nil {
			log.Fatalf("characteristic %d: %v", charID, err)
		}
		chars = []db.Characteristic{*char}
	} else {
		chars, err = dbConn.GetAllCharacteristics()
		if err != nil {
			log.Fatalf("list characteristics: %v", err)
		}
	}

	ctx := context.Background()
	for _, c := range chars {
		fmt.Printf("backfilling characteristic %d (%s)\n", c.ID, c.Name)

		var result *db.EvaluationResult
		if relimit {
			result, err = w.RecalculateLimits(ctx, c.ID)
		} else {
			result, err = w.EvaluateCharacteristic(ctx, c.ID, window)
		}
		if errors.Is(err, spc.ErrInsufficientHistory) {
			fmt.Printf("  skipped: %v\n", err)
			continue
		}
		if err != nil {
			log.Fatalf("backfill failed for characteristic %d: %v", c.ID, err)
		}
		fmt.Printf("  revision %d, %d subgroups, %d violations\n",
			result.LimitsRevision, result.Subgroups, result.Violations)
	}

	fmt.Println("backfill complete")
}
