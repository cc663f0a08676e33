// Command gen-samples seeds a station database with synthetic subgroups
// for demo charts and chart testing.
package main

import (
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/banshee-data/process.report/internal/db"
)

func main() {
	dbPath := flag.String("db", "process_data.db", "path to sqlite db")
	charID := flag.Int64("char", 0, "characteristic id to seed (required)")
	subgroups := flag.Int("n", 50, "number of subgroups")
	size := flag.Int("size", 5, "measurements per subgroup")
	mean := flag.Float64("mean", 12.0, "process mean")
	sigma := flag.Float64("sigma", 0.01, "within-subgroup standard deviation")
	shift := flag.Float64("shift", 0, "mean shift applied to the last ten subgroups, in sigma units")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	if *charID == 0 {
		log.Fatalf("char must be provided")
	}

	dbConn, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	if _, err := dbConn.GetCharacteristic(*charID); err != nil {
		log.Fatalf("characteristic %d: %v", *charID, err)
	}

	rng := rand.New(rand.NewSource(*seed))
	base := time.Now().Add(-time.Duration(*subgroups) * time.Minute)

	for i := 0; i < *subgroups; i++ {
		m := *mean
		if *shift != 0 && i >= *subgroups-10 {
			m += *shift * *sigma
		}

		measurements := make([]db.Measurement, *size)
		for j := range measurements {
			measurements[j] = db.Measurement{
				Position: j + 1,
				Value:    m + rng.NormFloat64()**sigma,
			}
		}

		sample := &db.Sample{
			CharacteristicID: *charID,
			RecordedAt:       float64(base.Add(time.Duration(i) * time.Minute).Unix()),
			Source:           "synthetic",
			Measurements:     measurements,
		}
		if err := dbConn.CreateSample(sample); err != nil {
			log.Fatalf("create sample %d: %v", i+1, err)
		}
		if (i+1)%10 == 0 {
			log.Printf("%d/%d subgroups", i+1, *subgroups)
		}
	}
	log.Printf("✓ Seeded %d subgroups for characteristic %d", *subgroups, *charID)
}
