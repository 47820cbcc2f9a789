// Command report renders a PNG chart of daily step totals from a steps
// database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/stride-data/steps.report/internal/db"
	"github.com/stride-data/steps.report/internal/security"
)

var (
	dbFile       = flag.String("db", "steps.db", "SQLite database path")
	output       = flag.String("o", "steps.png", "Output PNG path")
	days         = flag.Int("days", 30, "Number of days to chart")
	locationName = flag.String("location", "Local", "Time zone for day boundaries")
)

func main() {
	flag.Parse()

	if *days < 1 {
		log.Fatal("days must be at least 1")
	}

	if err := security.ValidateExportPath(*output); err != nil {
		log.Fatalf("Invalid output path: %v", err)
	}

	loc, err := time.LoadLocation(*locationName)
	if err != nil {
		log.Fatalf("Failed to load location %q: %v", *locationName, err)
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	store := db.NewStepStore(database, db.StoreConfig{Location: loc})

	totals, labels, err := dailyTotals(store, loc, *days)
	if err != nil {
		log.Fatalf("Failed to read step records: %v", err)
	}

	if err := renderChart(totals, labels, *output); err != nil {
		log.Fatalf("Failed to render chart: %v", err)
	}
	log.Printf("wrote %s (%d days)", *output, *days)
}

// dailyTotals sums records per local day, oldest first. Stored records never
// cross midnight, so bucketing by start time is exact.
func dailyTotals(store *db.StepStore, loc *time.Location, days int) (plotter.Values, []string, error) {
	now := time.Now().In(loc)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)

	records, err := store.ReadRecords(context.Background(), db.Query{From: &start, To: &end})
	if err != nil {
		return nil, nil, err
	}

	totals := make(plotter.Values, days)
	labels := make([]string, days)
	for i := 0; i < days; i++ {
		labels[i] = start.AddDate(0, 0, i).Format("01-02")
	}
	for _, rec := range records {
		local := rec.FromTime.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		idx := int(day.Sub(start).Hours() / 24)
		if idx >= 0 && idx < days {
			totals[idx] += float64(rec.StepCount)
		}
	}
	return totals, labels, nil
}

func renderChart(totals plotter.Values, labels []string, path string) error {
	p := plot.New()
	p.Title.Text = "Daily Steps"
	p.Y.Label.Text = "Steps"

	bars, err := plotter.NewBarChart(totals, vg.Points(12))
	if err != nil {
		return fmt.Errorf("failed to build bar chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(labels...)

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save chart: %w", err)
	}
	return nil
}
