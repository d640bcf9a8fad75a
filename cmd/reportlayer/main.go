// Package main implements the report-layer command: a local HTTP API
// server and a one-shot CLI for pulling LiveIQ franchisee reports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/liveiq-tools/report-layer/internal/app/domain/account"
	"github.com/liveiq-tools/report-layer/internal/app/domain/endpoint"
	"github.com/liveiq-tools/report-layer/internal/app/domain/report"
	"github.com/liveiq-tools/report-layer/internal/app/extension"
	"github.com/liveiq-tools/report-layer/internal/app/normalize"
	"github.com/liveiq-tools/report-layer/internal/app/runtime"
	"github.com/liveiq-tools/report-layer/internal/app/services/batch"
	"github.com/liveiq-tools/report-layer/internal/cli"
	"github.com/liveiq-tools/report-layer/internal/config"

	_ "github.com/liveiq-tools/report-layer/internal/app/extension/builtin/labortoday"
	_ "github.com/liveiq-tools/report-layer/internal/app/extension/builtin/salestoday"
)

var version = "dev"

func main() {
	var (
		configPath   = flag.String("config", envOr("LIVEIQ_CONFIG", config.DefaultPath), "Path to configuration file")
		serve        = flag.Bool("serve", false, "Run the HTTP API server")
		addr         = flag.String("addr", "", "Listen address override for -serve")
		endpointName = flag.String("endpoint", "", "Report endpoint to pull, e.g. \"Sales Summary\"")
		rangeName    = flag.String("range", "", "Named date range, e.g. \"Yesterday\"")
		startDate    = flag.String("start", "", "Start date (YYYY-MM-DD), used with -end")
		endDate      = flag.String("end", "", "End date (YYYY-MM-DD), used with -start")
		stores       = flag.String("stores", "", "Comma-separated store ids (default: all discovered)")
		extID        = flag.String("ext", "", "Run a registered extension by id")
		list         = flag.Bool("list", false, "List endpoints, date ranges and extensions")
		refresh      = flag.Bool("refresh", false, "Discover stores and print the account roster")
		flat         = flag.Bool("flat", false, "Flatten report payloads instead of pretty-printing")
		showVersion  = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("report-layer %s\n", version)
		return
	}
	if *list {
		printLists()
		return
	}
	if !*serve && !*refresh && *extID == "" && *endpointName == "" {
		flag.Usage()
		os.Exit(2)
	}

	storeFilter := parseStores(*stores)

	var opts pullOptions
	if *endpointName != "" {
		ep, ok := endpoint.Lookup(*endpointName)
		if !ok {
			log.Fatalf("unknown endpoint %q (use -list to see endpoints)", *endpointName)
		}
		var dateStart, dateEnd string
		switch {
		case *rangeName != "":
			var err error
			dateStart, dateEnd, err = report.Range(*rangeName).Resolve(time.Now())
			if err != nil {
				log.Fatalf("%v (use -list to see date ranges)", err)
			}
		case *startDate != "" && *endDate != "":
			for _, d := range []string{*startDate, *endDate} {
				if _, err := time.Parse(report.DateLayout, d); err != nil {
					log.Fatalf("bad date %q, want YYYY-MM-DD", d)
				}
			}
			if *startDate > *endDate {
				log.Fatalf("start %s is after end %s", *startDate, *endDate)
			}
			dateStart, dateEnd = *startDate, *endDate
		default:
			log.Fatalf("-range or -start and -end are required with -endpoint")
		}
		opts = pullOptions{
			ep:        ep,
			dateStart: dateStart,
			dateEnd:   dateEnd,
			stores:    storeFilter,
			flat:      *flat,
		}
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if werr := config.WriteTemplate(*configPath); werr != nil {
				log.Fatalf("write config template: %v", werr)
			}
			fmt.Printf("A starter %s has been created.\n", *configPath)
			fmt.Println("Add your LiveIQ credentials and run again.")
			return
		}
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	rt, err := runtime.NewApplication(cfg)
	if err != nil {
		log.Fatalf("initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if *serve {
		os.Exit(serveHTTP(ctx, rt))
	}

	var code int
	switch {
	case *refresh:
		code = runRefresh(ctx, rt)
	case *extID != "":
		code = runExtension(ctx, rt, *extID, storeFilter)
	default:
		code = runPull(ctx, rt, opts)
	}

	sdCtx, sdCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer sdCancel()
	if err := rt.Shutdown(sdCtx); err != nil {
		rt.Log().WithError(err).Warn("shutdown incomplete")
	}
	os.Exit(code)
}

// serveHTTP runs the server until the context is cancelled.
func serveHTTP(ctx context.Context, rt *runtime.Application) int {
	runErr := rt.Run(ctx)

	sdCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := rt.Shutdown(sdCtx); err != nil {
		rt.Log().WithError(err).Warn("shutdown incomplete")
	}

	if runErr != nil {
		rt.Log().WithError(runErr).Error("server exited with error")
		return 1
	}
	return 0
}

// discover sweeps every account's store list before a one-shot command.
func discover(ctx context.Context, rt *runtime.Application) error {
	sp := cli.NewSpinner("Discovering stores").SetWriter(os.Stderr)
	sp.Start()
	if err := rt.App().Discovery.Refresh(ctx); err != nil {
		sp.Error("store discovery failed: " + err.Error())
		return err
	}
	ids, err := rt.App().Registry.AllStores(ctx)
	if err != nil {
		sp.Error("store discovery failed: " + err.Error())
		return err
	}
	sp.Success(fmt.Sprintf("%d stores discovered", len(ids)))
	return nil
}

func runRefresh(ctx context.Context, rt *runtime.Application) int {
	if err := discover(ctx, rt); err != nil {
		return 1
	}
	accounts, err := rt.App().Registry.Accounts(ctx)
	if err != nil {
		rt.Log().WithError(err).Error("read accounts")
		return 1
	}

	fmt.Println("\nAccounts:")
	for _, acct := range accounts {
		statusColor := cli.ColorGreen
		if acct.Status != account.StatusActive {
			statusColor = cli.ColorRed
		}
		line := fmt.Sprintf("  %-20s %s %3d stores",
			acct.Name, cli.Colorize(fmt.Sprintf("%-7s", acct.Status), statusColor), len(acct.StoreIDs))
		if len(acct.StoreIDs) > 0 {
			line += ": " + strings.Join(report.SortStoreIDs(acct.StoreIDs), ", ")
		}
		if acct.LastError != "" {
			line += "  (" + acct.LastError + ")"
		}
		fmt.Println(line)
	}
	return 0
}

func runExtension(ctx context.Context, rt *runtime.Application, id string, stores []string) int {
	if err := discover(ctx, rt); err != nil {
		return 1
	}
	host, err := rt.App().ExtensionContext(ctx, stores)
	if err != nil {
		rt.Log().WithError(err).Error("extension context failed")
		return 1
	}
	out, err := extension.Invoke(ctx, id, host)
	if err != nil {
		cli.Error(err.Error())
		return 1
	}
	fmt.Println(out)
	return 0
}

type pullOptions struct {
	ep        endpoint.Endpoint
	dateStart string
	dateEnd   string
	stores    []string
	flat      bool
}

func runPull(ctx context.Context, rt *runtime.Application, opts pullOptions) int {
	if err := discover(ctx, rt); err != nil {
		return 1
	}
	reg := rt.App().Registry
	accounts, err := reg.Accounts(ctx)
	if err != nil {
		rt.Log().WithError(err).Error("read accounts")
		return 1
	}

	header := opts.stores
	if header == nil {
		header, _ = reg.AllStores(ctx)
	}
	fmt.Printf("Endpoint: %s\n", opts.ep)
	fmt.Printf("Range   : %s → %s\n", opts.dateStart, opts.dateEnd)
	fmt.Printf("Stores  : %s\n", strings.Join(report.SortStoreIDs(header), ", "))

	sched := rt.App().Scheduler
	events, stop := sched.Events().Subscribe(256)
	defer stop()

	// The finished event races the scheduler handing the report back, so
	// the bar is closed out from the aggregate after the drain, not from
	// the event stream.
	var pb *cli.ProgressBar
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range events {
			switch ev.Type {
			case batch.EventStarted:
				pb = cli.NewProgressBar(ev.Total, "Fetching").SetWriter(os.Stderr)
			case batch.EventEntry:
				if pb != nil {
					pb.Set(ev.Completed, ev.Failed)
				}
			}
		}
	}()

	agg := sched.Run(ctx, batch.Request{
		Endpoint:  opts.ep,
		DateStart: opts.dateStart,
		DateEnd:   opts.dateEnd,
		Accounts:  accounts,
		Selection: opts.stores,
	})
	stop()
	<-drained
	if pb != nil {
		pb.Set(len(agg.Entries), agg.Failed())
		pb.Finish()
	}

	for _, e := range report.SortEntries(agg.Entries) {
		fmt.Printf("\n### %s – Store %s ###\n", e.AccountName, e.StoreID)
		if !e.Result.OK {
			fmt.Printf("ERROR: %s (%s)\n", e.Result.Message, e.Result.Kind)
			continue
		}
		fmt.Print(renderPayload(e.Result.Payload, opts.flat))
	}

	failed := agg.Failed()
	fmt.Printf("\n%d of %d requests succeeded\n", len(agg.Entries)-failed, len(agg.Entries))
	switch {
	case agg.Cancelled:
		cli.Warning("batch cancelled before completion")
		return 1
	case len(agg.Entries) == 0:
		cli.Warning("no stores matched the selection")
		return 1
	case failed == len(agg.Entries):
		return 1
	}
	return 0
}

// renderPayload formats one store's report. Summaries arrive either as a
// bare document or wrapped in a data envelope; both render the same.
func renderPayload(payload json.RawMessage, flat bool) string {
	doc := normalize.Unwrap(payload)

	if !flat {
		var v any
		if err := json.Unmarshal(doc, &v); err != nil {
			return string(doc) + "\n"
		}
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return string(doc) + "\n"
		}
		return string(pretty) + "\n"
	}

	var items []json.RawMessage
	if err := json.Unmarshal(doc, &items); err != nil {
		items = []json.RawMessage{doc}
	}
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "— Entry %d —\n", i+1)
		fields := normalize.FlattenJSON(item)
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%-40s : %s\n", k, normalize.Stringify(fields[k]))
		}
	}
	return b.String()
}

func printLists() {
	fmt.Println("Endpoints:")
	for _, ep := range endpoint.All() {
		fmt.Printf("  %s\n", ep)
	}
	fmt.Println("\nDate ranges:")
	for _, r := range report.Ranges() {
		fmt.Printf("  %s\n", r)
	}
	fmt.Println("\nExtensions:")
	for _, info := range extension.AllInfo() {
		fmt.Printf("  %-16s %s\n", info.ID, info.Title)
	}
}

func parseStores(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	log.SetFlags(0)
	log.SetPrefix("reportlayer: ")
}
