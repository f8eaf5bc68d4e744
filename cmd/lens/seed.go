package main

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/nicktill/tinylens/pkg/client"
	"github.com/nicktill/tinylens/pkg/storage"
)

var (
	seedIndex    string
	seedCount    int
	seedDays     int
	seedStatuses []string
	seedRegions  []string
	seedRandSeed int64
	seedBatch    int
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Ingest synthetic documents for trying out a server",
	Long: `Generates documents spread evenly over the last --days days. Each one
carries a status and region term, an amount with a daily cycle and a
latency_ms value, so every explorer feature has something to show.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedCount <= 0 || seedDays <= 0 {
			return fmt.Errorf("--count and --days must be positive")
		}
		if len(seedStatuses) == 0 || len(seedRegions) == 0 {
			return fmt.Errorf("--statuses and --regions must not be empty")
		}

		b := client.NewBatcher(api, client.BatchConfig{MaxBatchSize: seedBatch, FlushEvery: time.Second}, log)
		b.Start(cmd.Context())

		rng := rand.New(rand.NewSource(seedRandSeed))
		end := time.Now().UTC().Truncate(time.Minute)
		start := end.Add(-time.Duration(seedDays) * 24 * time.Hour)
		step := end.Sub(start) / time.Duration(seedCount)

		for i := 0; i < seedCount; i++ {
			b.Add(syntheticDoc(rng, seedIndex, start.Add(time.Duration(i)*step)))
		}
		if err := b.Stop(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d documents into %s (%d failed)\n", b.Sent(), seedIndex, b.Failed())
		if b.Failed() > 0 {
			return fmt.Errorf("%d documents were not accepted", b.Failed())
		}
		return nil
	},
}

func syntheticDoc(rng *rand.Rand, index string, ts time.Time) storage.Document {
	hour := float64(ts.Hour()) + float64(ts.Minute())/60
	// Busy afternoons, quiet nights.
	cycle := 1 + 0.5*math.Sin((hour-9)/24*2*math.Pi)

	status := seedStatuses[0]
	if len(seedStatuses) > 1 && rng.Float64() > 0.7 {
		status = seedStatuses[1+rng.Intn(len(seedStatuses)-1)]
	}

	return storage.Document{
		Index:     index,
		Timestamp: ts,
		Fields: map[string]interface{}{
			"status":     status,
			"region":     seedRegions[rng.Intn(len(seedRegions))],
			"amount":     math.Round((20+rng.Float64()*80)*cycle*100) / 100,
			"latency_ms": math.Round(rng.ExpFloat64()*120*cycle + 5),
		},
	}
}

func init() {
	seedCmd.Flags().StringVarP(&seedIndex, "index", "i", "orders", "Index to write")
	seedCmd.Flags().IntVarP(&seedCount, "count", "n", 5000, "Number of documents")
	seedCmd.Flags().IntVar(&seedDays, "days", 30, "Days of history to spread the documents over")
	seedCmd.Flags().StringSliceVar(&seedStatuses, "statuses", []string{"paid", "pending", "refunded", "failed"}, "Status values, the first is the most common")
	seedCmd.Flags().StringSliceVar(&seedRegions, "regions", []string{"eu", "us", "apac"}, "Region values")
	seedCmd.Flags().Int64Var(&seedRandSeed, "seed", 1, "Random seed")
	seedCmd.Flags().IntVar(&seedBatch, "batch", 500, "Documents per ingest request")
}
