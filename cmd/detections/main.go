package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	config "github.com/NordCoder/Cronus/internal/config/detector"
	"github.com/NordCoder/Cronus/internal/domain/incident"
	pg "github.com/NordCoder/Cronus/internal/repository/postgres"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/pflag"
)

func main() {
	cfgPath := pflag.StringP("config", "c", "", "path to detector YAML config")
	limit := pflag.IntP("limit", "n", 20, "number of detections to show")
	asJSON := pflag.Bool("json", false, "print JSON instead of a table")
	pflag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pg.NewDB(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	views, err := pg.NewIncidentRepo(db).ListDetections(ctx, *limit)
	if err != nil {
		log.Fatalf("list detections: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(views); err != nil {
			log.Fatal(err)
		}
		return
	}
	printTable(os.Stdout, views, time.Now())
}

func printTable(w io.Writer, views []incident.DetectionView, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DETECTION\tORG\tMONITOR\tENVIRONMENT\tFAILING FOR\tDETECTED\tNOTIFIED")
	for _, v := range views {
		notified := "-"
		if v.Detection.UserNotifiedAt != nil {
			notified = humanize.RelTime(*v.Detection.UserNotifiedAt, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			v.Detection.ID,
			v.OrganizationID,
			v.MonitorSlug,
			v.Environment,
			strings.TrimSpace(humanize.RelTime(v.Incident.StartingTimestamp, now, "", "")),
			humanize.RelTime(v.Detection.DetectionTimestamp, now, "ago", "from now"),
			notified,
		)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%s detections\n", humanize.Comma(int64(len(views))))
}
