package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"shopassist/internal/auth"
	"shopassist/internal/gateway"
	"shopassist/internal/location"
	"shopassist/internal/metrics"
	"shopassist/internal/scan"
	"shopassist/internal/shopping"
)

// SignIn signs in and prints the user id.
func (a *App) SignIn(ctx context.Context, email, password string) error {
	if err := a.Session.SignIn(ctx, email, password); err != nil {
		return fmt.Errorf("failed to sign in: %w", err)
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", a.Session.UserID())
	return nil
}

// SignUp registers and signs in.
func (a *App) SignUp(ctx context.Context, name, email, password string) error {
	err := a.Session.SignUp(ctx, name, email, password)
	var signUpErr *auth.SignUpError
	if errors.As(err, &signUpErr) && signUpErr.Registered {
		fmt.Fprintln(a.out, "Account created, but signing in failed. Try `login`.")
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to sign up: %w", err)
	}
	fmt.Fprintf(a.out, "Account created. Signed in as %s\n", a.Session.UserID())
	return nil
}

func (a *App) SignOut(ctx context.Context) {
	a.Session.SignOut(ctx)
	fmt.Fprintln(a.out, "Signed out")
}

// WhoAmI prints the session state and local resource usage.
func (a *App) WhoAmI() {
	if !a.Session.Authenticated() {
		fmt.Fprintln(a.out, "Not signed in")
	} else {
		fmt.Fprintf(a.out, "User: %s\n", a.Session.UserID())
	}
	health := metrics.GetSysHealth(a.cfg.SessionDir)
	fmt.Fprintf(a.out, "Session store: %s (%s)\n", a.cfg.SessionStore, health.DataDirSize)
}

// ShowLists prints the user's shopping lists.
func (a *App) ShowLists(ctx context.Context) error {
	lists, err := a.Lists.Load(ctx)
	if err != nil {
		return err
	}
	if len(lists) == 0 {
		fmt.Fprintln(a.out, "No shopping lists")
		return nil
	}
	for _, l := range lists {
		fmt.Fprintf(a.out, "%s\t%s\n", l.ID, l.Name)
	}
	return nil
}

func (a *App) CreateList(ctx context.Context, name string) error {
	list, err := a.Lists.Create(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created %s\t%s\n", list.ID, list.Name)
	return nil
}

func (a *App) DeleteList(ctx context.Context, listID string) error {
	if err := a.Lists.Delete(ctx, listID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", listID)
	return nil
}

// ShowProducts prints the catalog sorted by name.
func (a *App) ShowProducts(ctx context.Context) error {
	products, err := a.Gateway.Products(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch products: %w", err)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	for _, p := range products {
		fmt.Fprintf(a.out, "%s\t%s\t%s\t%s\n", p.ID(), p.Barcode, p.Name, formatPrice(p.Price))
	}
	return nil
}

// Scan feeds each barcode through the scanner. With listID set, found
// products are added to that list.
func (a *App) Scan(ctx context.Context, codes []string, listID string) error {
	if listID != "" {
		if err := a.selectList(ctx, listID); err != nil {
			return err
		}
	}
	for _, code := range codes {
		res, err := a.Scanner.HandleBarcode(ctx, code)
		switch {
		case errors.Is(err, scan.ErrDropped):
			fmt.Fprintf(a.out, "%s\tdropped (scanner busy)\n", code)
			continue
		case err != nil:
			fmt.Fprintf(a.out, "%s\terror: %v\n", code, err)
			continue
		}
		if !res.Found {
			fmt.Fprintf(a.out, "%s\tunknown product\n", code)
			continue
		}
		fmt.Fprintf(a.out, "%s\t%s\t%s\n", code, res.Product.Name, formatPrice(res.Product.Price))
		if listID != "" {
			qty, err := a.Sync.Increment(ctx, res.Product.ID())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "\tquantity on list: %d\n", qty)
		}
	}
	return nil
}

func (a *App) selectList(ctx context.Context, listID string) error {
	if current, ok := a.Sync.Selected(); ok && current.ID == listID {
		return nil
	}
	list, ok := a.Lists.Find(listID)
	if !ok {
		list = gateway.ShoppingList{ID: listID}
	}
	return a.Sync.SelectList(ctx, list)
}

// Increment adds one unit of productID to listID and prints the quantity.
func (a *App) Increment(ctx context.Context, listID, productID string) error {
	if err := a.selectList(ctx, listID); err != nil {
		return err
	}
	qty, err := a.Sync.Increment(ctx, productID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\t%d\n", productID, qty)
	return nil
}

// Decrement removes one unit of productID from listID.
func (a *App) Decrement(ctx context.Context, listID, productID string) error {
	if err := a.selectList(ctx, listID); err != nil {
		return err
	}
	applied, err := a.Sync.Decrement(ctx, productID)
	if err != nil {
		return err
	}
	if !applied {
		fmt.Fprintf(a.out, "%s\tnot on list\n", productID)
		return nil
	}
	if qty, ok := a.Sync.Quantity(productID); ok {
		fmt.Fprintf(a.out, "%s\t%d\n", productID, qty)
	} else {
		fmt.Fprintf(a.out, "%s\tremoved\n", productID)
	}
	return nil
}

// ShowList prints the items of listID with their quantities.
func (a *App) ShowList(ctx context.Context, listID string) error {
	if err := a.Sync.SelectList(ctx, gateway.ShoppingList{ID: listID}); err != nil {
		return err
	}
	lines := a.Sync.Lines()
	if len(lines) == 0 {
		fmt.Fprintln(a.out, "List is empty")
	}
	for _, l := range lines {
		name := l.ProductID
		if l.Product != nil && l.Product.Name != "" {
			name = l.Product.Name
		}
		fmt.Fprintf(a.out, "%s\t%s\tx%d\n", l.ProductID, name, l.Quantity)
	}
	return nil
}

// ShowStores prints listID grouped by store with subtotals and a total.
func (a *App) ShowStores(ctx context.Context, listID string) error {
	summary, err := a.Aggregator.Load(ctx, listID)
	if err != nil {
		return err
	}
	for _, g := range summary.Groups {
		fmt.Fprintf(a.out, "%s\t%s\n", g.Name, g.Subtotal)
		for _, item := range g.Items {
			name := item.ProductID
			var price *float64
			if item.Product != nil {
				if item.Product.Name != "" {
					name = item.Product.Name
				}
				price = item.Product.Price
			}
			fmt.Fprintf(a.out, "  %s x%d\t%s\n", name, item.Quantity, formatPrice(price))
		}
	}
	fmt.Fprintf(a.out, "Total\t%s\n", summary.Total)
	return nil
}

// Compare scans two barcodes into slots A and B and prints the comparison.
func (a *App) Compare(ctx context.Context, barcodeA, barcodeB string) error {
	a.Scanner.SetCompareMode(true)
	defer a.Scanner.SetCompareMode(false)
	a.Scanner.ClearSlots()

	for _, step := range []struct {
		target scan.Target
		code   string
	}{{scan.TargetA, barcodeA}, {scan.TargetB, barcodeB}} {
		if err := a.waitIdle(ctx); err != nil {
			return err
		}
		a.Scanner.Arm(step.target)
		res, err := a.Scanner.HandleBarcode(ctx, step.code)
		if err != nil {
			return fmt.Errorf("product %s: %w", step.target, err)
		}
		fmt.Fprintf(a.out, "%s: %s\n", step.target, res.Product.Name)
	}

	text, err := a.Scanner.Compare(ctx, a.comparer)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, text)
	return nil
}

// waitIdle blocks until the scan gate's cool-down is over.
func (a *App) waitIdle(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for a.Gate.State() != scan.Idle {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Track scans barcode and records its price at storeID.
func (a *App) Track(ctx context.Context, barcode, storeID string, price float64) error {
	if err := a.waitIdle(ctx); err != nil {
		return err
	}
	if _, err := a.Scanner.HandleBarcode(ctx, barcode); err != nil {
		return err
	}
	if err := a.Scanner.Submit(ctx, storeID, price); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Recorded %s at %s for %.2f\n", barcode, storeID, price)
	return nil
}

// Nearby prints stores around the user, optionally asking the backend to
// import them first.
func (a *App) Nearby(ctx context.Context, preload bool) error {
	if preload {
		if err := a.Scanner.PreloadStores(ctx); err != nil {
			if errors.Is(err, location.ErrPermissionDenied) {
				fmt.Fprintln(a.out, "Location unavailable; pass --lat and --lng")
				return nil
			}
			return err
		}
	}
	stores, err := a.Scanner.NearbyStores(ctx)
	if errors.Is(err, location.ErrPermissionDenied) {
		fmt.Fprintln(a.out, "Location unavailable; pass --lat and --lng")
		return nil
	}
	if err != nil {
		return err
	}
	for _, s := range stores {
		line := fmt.Sprintf("%s\t%s", s.StoreID, s.Name)
		if s.Vicinity != "" {
			line += "\t" + s.Vicinity
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

// MetricsUsage prints the request log summary for the last days.
func (a *App) MetricsUsage(ctx context.Context, days int) error {
	usage, err := a.metricsStore.GetDailyUsage(ctx, days)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Date\tRequests\tFailures\tAvg latency")
	for _, u := range usage {
		fmt.Fprintf(a.out, "%s\t%d\t%d\t%.0fms\n", u.Date, u.Requests, u.Failures, u.AvgLatencyMS)
	}
	health := metrics.GetSysHealth(a.cfg.SessionDir)
	fmt.Fprintf(a.out, "Memory: %d MB alloc / %d MB sys, goroutines: %d, data: %s\n",
		health.AllocMB, health.SysMB, health.Goroutines, health.DataDirSize)
	return nil
}

func (a *App) MetricsCleanup(ctx context.Context, days int) error {
	removed, err := a.metricsStore.Cleanup(ctx, days)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Removed %d request records older than %d days\n", removed, days)
	return nil
}

func formatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return shopping.Cents(int64(*p*100 + 0.5)).String()
}

// ParseBarcodes splits comma or space separated barcodes.
func ParseBarcodes(args []string) []string {
	var codes []string
	for _, arg := range args {
		for _, c := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			codes = append(codes, c)
		}
	}
	return codes
}
