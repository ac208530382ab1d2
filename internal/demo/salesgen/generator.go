package salesgen

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"time"
)

// Config shapes the generated daily sales series. The weekend dip and
// the optional spike give the anomaly detectors something to find.
type Config struct {
	Seed        int64
	Days        int
	StartDate   time.Time
	BaseRevenue float64
	WeekendDip  float64
	SpikeDay    int
	SpikeFactor float64
}

func (c *Config) ensureDefaults() {
	if c.Days <= 0 {
		c.Days = 90
	}
	if c.StartDate.IsZero() {
		c.StartDate = time.Now().UTC().AddDate(0, 0, -c.Days)
	}
	if c.BaseRevenue <= 0 {
		c.BaseRevenue = 1000
	}
	if c.WeekendDip <= 0 || c.WeekendDip >= 1 {
		c.WeekendDip = 0.4
	}
	if c.SpikeFactor <= 0 {
		c.SpikeFactor = 1
	}
}

type Generator struct {
	cfg Config
	rnd *rand.Rand
}

func NewGenerator(cfg Config) *Generator {
	cfg.ensureDefaults()
	return &Generator{cfg: cfg, rnd: rand.New(rand.NewSource(cfg.Seed))}
}

var regions = []string{"north", "south", "east", "west"}

var products = []string{"starter", "growth", "enterprise"}

// WriteCSV emits one header row plus a few order rows per day. Daily
// revenue follows the base level with a weekend dip, mild noise and a
// slow upward trend.
func (g *Generator) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"order_date", "region", "product", "units", "revenue"}); err != nil {
		return err
	}

	for day := 0; day < g.cfg.Days; day++ {
		date := g.cfg.StartDate.AddDate(0, 0, day)
		target := g.dailyRevenue(day, date)
		orders := 3 + g.rnd.Intn(3)
		for i := 0; i < orders; i++ {
			share := target / float64(orders)
			revenue := round2(share * (0.8 + g.rnd.Float64()*0.4))
			units := 1 + g.rnd.Intn(9)
			record := []string{
				date.Format("2006-01-02"),
				regions[g.rnd.Intn(len(regions))],
				products[g.rnd.Intn(len(products))],
				strconv.Itoa(units),
				fmt.Sprintf("%.2f", revenue),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func (g *Generator) dailyRevenue(day int, date time.Time) float64 {
	revenue := g.cfg.BaseRevenue * (1 + 0.002*float64(day))
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		revenue *= 1 - g.cfg.WeekendDip
	}
	revenue *= 0.95 + g.rnd.Float64()*0.1
	if g.cfg.SpikeDay > 0 && day == g.cfg.SpikeDay {
		revenue *= g.cfg.SpikeFactor
	}
	return revenue
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
