package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"shopassist/internal/app"
	"shopassist/internal/config"
	"shopassist/internal/location"
	"shopassist/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	lat := fs.Float64("lat", 0, "Latitude of the current position")
	lng := fs.Float64("lng", 0, "Longitude of the current position")
	list := fs.String("list", "", "Shopping list id")
	days := fs.Int("days", 7, "Number of days")
	preload := fs.Bool("preload", false, "Ask the backend to import nearby stores first")
	addr := fs.String("addr", "", "Listen address (defaults to METRICS_ADDR)")
	fs.Parse(args)

	opts := app.Options{}
	if isFlagSet(fs, "lat") && isFlagSet(fs, "lng") {
		opts.LocationProvider = location.StaticProvider{Fix: location.Fix{Latitude: *lat, Longitude: *lng}}
	}

	application, err := app.New(ctx, cfg, log, opts)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()
	application.Init(ctx)

	pos := fs.Args()
	need := func(n int, usage string) {
		if len(pos) < n {
			fmt.Fprintf(os.Stderr, "Usage: shopassist %s %s\n", cmd, usage)
			application.Close()
			os.Exit(2)
		}
	}

	switch cmd {
	case "login":
		need(2, "<email> <password>")
		err = application.SignIn(ctx, pos[0], pos[1])
	case "signup":
		need(3, "<name> <email> <password>")
		err = application.SignUp(ctx, pos[0], pos[1], pos[2])
	case "logout":
		application.SignOut(ctx)
	case "whoami":
		application.WhoAmI()
	case "lists":
		err = application.ShowLists(ctx)
	case "create-list":
		need(1, "<name>")
		err = application.CreateList(ctx, pos[0])
	case "delete-list":
		need(1, "<list-id>")
		err = application.DeleteList(ctx, pos[0])
	case "show-list":
		need(1, "<list-id>")
		err = application.ShowList(ctx, pos[0])
	case "products":
		err = application.ShowProducts(ctx)
	case "scan":
		need(1, "[--list <list-id>] <barcode>...")
		err = application.Scan(ctx, app.ParseBarcodes(pos), *list)
	case "inc":
		need(2, "<list-id> <product-id>")
		err = application.Increment(ctx, pos[0], pos[1])
	case "dec":
		need(2, "<list-id> <product-id>")
		err = application.Decrement(ctx, pos[0], pos[1])
	case "stores":
		need(1, "<list-id>")
		err = application.ShowStores(ctx, pos[0])
	case "compare":
		need(2, "<barcode-a> <barcode-b>")
		err = application.Compare(ctx, pos[0], pos[1])
	case "track":
		need(3, "<barcode> <store-id> <price>")
		price, perr := strconv.ParseFloat(pos[2], 64)
		if perr != nil {
			err = fmt.Errorf("invalid price %q: %w", pos[2], perr)
			break
		}
		err = application.Track(ctx, pos[0], pos[1], price)
	case "nearby":
		err = application.Nearby(ctx, *preload)
	case "metrics-usage":
		err = application.MetricsUsage(ctx, *days)
	case "metrics-cleanup":
		if !isFlagSet(fs, "days") {
			*days = 30
		}
		err = application.MetricsCleanup(ctx, *days)
	case "serve-metrics":
		err = application.ServeMetrics(ctx, *addr)
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		application.Close()
		os.Exit(1)
	}

	if err != nil {
		log.WithError(err).WithField("command", cmd).Error("Command failed")
		application.Close()
		os.Exit(1)
	}
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	fmt.Println("Usage: shopassist <command> [flags] [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  login <email> <password>             Sign in and remember the session")
	fmt.Println("  signup <name> <email> <password>     Create an account and sign in")
	fmt.Println("  logout                               Forget the session")
	fmt.Println("  whoami                               Show the signed-in user")
	fmt.Println("  lists                                List your shopping lists")
	fmt.Println("  create-list <name>                   Create a shopping list")
	fmt.Println("  delete-list <list-id>                Delete a shopping list")
	fmt.Println("  show-list <list-id>                  Show the items of a list")
	fmt.Println("  products                             Show the product catalog")
	fmt.Println("  scan [--list id] <barcode>...        Look up barcodes, optionally adding them to a list")
	fmt.Println("  inc <list-id> <product-id>           Add one unit to a list")
	fmt.Println("  dec <list-id> <product-id>           Remove one unit from a list")
	fmt.Println("  stores <list-id>                     Show a list grouped by store with totals")
	fmt.Println("  compare <barcode-a> <barcode-b>      Compare two products")
	fmt.Println("  track <barcode> <store-id> <price>   Record a price seen in a store")
	fmt.Println("  nearby [--lat --lng] [--preload]     Show stores around you")
	fmt.Println("  metrics-usage [--days N]             Summarize backend requests")
	fmt.Println("  metrics-cleanup [--days N]           Remove old request records")
	fmt.Println("  serve-metrics [--addr :9090]         Expose Prometheus metrics")
}
