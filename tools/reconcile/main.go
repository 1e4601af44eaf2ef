package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	analytics "moldwatch-cloud/internal/analytics/domain"
	masterdatarepo "moldwatch-cloud/internal/masterdata/infrastructure/postgres"
	"moldwatch-cloud/internal/reports"
	timelineapp "moldwatch-cloud/internal/timeline/application"
	wakerepo "moldwatch-cloud/internal/wake/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const timeLayout = time.RFC3339

// reconcile rebuilds a site timeline from stored wake reports offline and
// writes the same report artifacts the HTTP export endpoints produce. It is
// the operator's escape hatch when a report needs regenerating without
// going through the API.

type config struct {
	dbURL    string
	tenantID string
	siteID   string
	from     time.Time
	to       time.Time
	outDir   string
	formats  []string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create out dir:", err)
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	ctx := context.Background()

	timelines, err := timelineapp.NewService(wakerepo.NewSnapshotQuery(db), nil, nil, cfg.tenantID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "timeline service:", err)
		os.Exit(2)
	}
	snapshots, err := timelines.Timeline(ctx, cfg.siteID, cfg.from, cfg.to)
	if err != nil {
		fmt.Fprintln(os.Stderr, "timeline:", err)
		os.Exit(2)
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stderr, "no wake reports in window")
		os.Exit(1)
	}

	site, err := masterdatarepo.NewSiteRepository(db).Get(ctx, cfg.siteID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "site lookup:", err)
	}

	report := reports.BuildSiteReport(site, cfg.siteID, snapshots, analytics.DefaultDeltaThresholds(), cfg.from, cfg.to)

	degraded := 0
	for _, snapshot := range snapshots {
		if snapshot.Degraded {
			degraded++
		}
	}
	fmt.Printf("site %s: %d snapshots (%d degraded), %d outliers, %d delta events\n",
		cfg.siteID, len(snapshots), degraded, len(report.Outliers), len(report.Deltas))

	for _, format := range cfg.formats {
		path := filepath.Join(cfg.outDir, fmt.Sprintf("site-%s-report.%s", cfg.siteID, format))
		if err := writeReport(path, format, report); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", format, err)
			os.Exit(1)
		}
		fmt.Println("wrote", path)
	}
}

func writeReport(path, format string, report *reports.SiteReport) error {
	switch format {
	case "csv":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return reports.WriteSiteReportCSV(f, report)
	case "pdf":
		data, err := reports.BuildSiteReportPDF(report)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	case "xlsx":
		data, err := reports.BuildSiteReportXLSX(report)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func parseFlags() (config, error) {
	var cfg config
	var fromRaw, toRaw, formats string

	flag.StringVar(&cfg.dbURL, "db", os.Getenv("DATABASE_URL"), "postgres connection string")
	flag.StringVar(&cfg.tenantID, "tenant", "", "tenant id")
	flag.StringVar(&cfg.siteID, "site", "", "site id")
	flag.StringVar(&fromRaw, "from", "", "window start, RFC3339")
	flag.StringVar(&toRaw, "to", "", "window end, RFC3339 (default now)")
	flag.StringVar(&cfg.outDir, "out", "reports", "output directory")
	flag.StringVar(&formats, "formats", "csv", "comma separated: csv,pdf,xlsx")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("missing -db (or DATABASE_URL)")
	}
	if cfg.tenantID == "" {
		return cfg, errors.New("missing -tenant")
	}
	if cfg.siteID == "" {
		return cfg, errors.New("missing -site")
	}
	if fromRaw == "" {
		return cfg, errors.New("missing -from")
	}

	from, err := time.Parse(timeLayout, fromRaw)
	if err != nil {
		return cfg, fmt.Errorf("parse -from: %w", err)
	}
	cfg.from = from.UTC()

	if toRaw == "" {
		cfg.to = time.Now().UTC()
	} else {
		to, err := time.Parse(timeLayout, toRaw)
		if err != nil {
			return cfg, fmt.Errorf("parse -to: %w", err)
		}
		cfg.to = to.UTC()
	}
	if !cfg.to.After(cfg.from) {
		return cfg, errors.New("-to must be after -from")
	}

	for _, format := range strings.Split(formats, ",") {
		format = strings.TrimSpace(format)
		if format != "" {
			cfg.formats = append(cfg.formats, format)
		}
	}
	if len(cfg.formats) == 0 {
		return cfg, errors.New("no output formats")
	}
	return cfg, nil
}
