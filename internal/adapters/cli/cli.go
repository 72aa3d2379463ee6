package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"invoicing-service/internal/app"
	"invoicing-service/internal/core"

	"github.com/gocarina/gocsv"
)

// Usage lists the available subcommands.
const Usage = `Usage:
  app post --tenant T --branch B [--user U] < request.json
  app post-csv <file.csv> --tenant T --branch B --type revenue|expense [--number N]
  app stock --tenant T --branch B [--store S] [--q TEXT] [--negative]
  app migrate`

// Env carries the process surroundings a command may touch.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	// Migrate applies pending schema migrations and returns the versions applied.
	Migrate func(ctx context.Context) ([]string, error)
}

// Run executes a one-shot CLI command. args is os.Args[1:]; the first element is
// the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, env Env, args []string) error {
	if env.Stdin == nil {
		env.Stdin = os.Stdin
	}
	if env.Stdout == nil {
		env.Stdout = os.Stdout
	}
	if len(args) == 0 {
		return errors.New(Usage)
	}

	switch args[0] {
	case "post":
		return runPost(ctx, svc, env, args[1:])
	case "post-csv":
		return runPostCSV(ctx, svc, env, args[1:])
	case "stock":
		return runStock(ctx, svc, env, args[1:])
	case "migrate":
		if env.Migrate == nil {
			return errors.New("migrate requires STORE_DRIVER=postgres")
		}
		applied, err := env.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		if len(applied) == 0 {
			fmt.Fprintln(env.Stdout, "Schema is up to date.")
			return nil
		}
		for _, v := range applied {
			fmt.Fprintf(env.Stdout, "Applied %s\n", v)
		}
		return nil
	default:
		return fmt.Errorf("unknown command: %s\n%s", args[0], Usage)
	}
}

type sessionFlags struct {
	tenant, branch, user string
}

func (s *sessionFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.tenant, "tenant", "", "tenant (main account) id")
	fs.StringVar(&s.branch, "branch", "", "branch id")
	fs.StringVar(&s.user, "user", "cli", "user recorded as the invoice creator")
}

func (s *sessionFlags) session() app.Session {
	return app.Session{TenantID: s.tenant, BranchID: s.branch, UserID: s.user}
}

func runPost(ctx context.Context, svc app.ApplicationService, env Env, args []string) error {
	fs := flag.NewFlagSet("post", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var sf sessionFlags
	sf.register(fs)
	if _, err := parseInterspersed(fs, args); err != nil {
		return err
	}

	var req app.PostInvoiceRequest
	dec := json.NewDecoder(env.Stdin)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	res, err := svc.PostInvoice(ctx, sf.session(), req)
	if err != nil {
		return err
	}
	return printJSON(env.Stdout, res)
}

// csvLine is one row of a bulk posting file. Columns are matched by header name.
type csvLine struct {
	Name     string `csv:"name"`
	Quantity string `csv:"quantity"`
	Price    string `csv:"price"`
	StoreID  string `csv:"store_id"`
	Unit     string `csv:"unit"`
}

func runPostCSV(ctx context.Context, svc app.ApplicationService, env Env, args []string) error {
	fs := flag.NewFlagSet("post-csv", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var sf sessionFlags
	sf.register(fs)
	typ := fs.String("type", "", "invoice type: revenue or expense")
	number := fs.String("number", "", "invoice number (generated when empty)")
	notes := fs.String("notes", "", "invoice notes")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return errors.New("post-csv needs exactly one CSV file\n" + Usage)
	}

	f, err := os.Open(positional[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", positional[0], err)
	}
	defer f.Close()

	items, err := readCSVLines(f)
	if err != nil {
		return err
	}
	res, err := svc.PostInvoice(ctx, sf.session(), app.PostInvoiceRequest{
		Type:          core.InvoiceType(strings.ToLower(*typ)),
		InvoiceNumber: *number,
		Notes:         *notes,
		Items:         items,
		Metadata:      map[string]any{"source": "csv", "file": positional[0]},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "Posted %s %s: %d lines, total %s, %d new products\n",
		res.Invoice.Type, res.Invoice.InvoiceNumber, len(res.Invoice.Lines),
		res.Invoice.TotalAmount.StringFixed(2), len(res.CreatedProducts))
	return nil
}

func readCSVLines(r io.Reader) ([]core.RawLine, error) {
	var rows []*csvLine
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	items := make([]core.RawLine, 0, len(rows))
	for _, row := range rows {
		line := core.RawLine{
			Name:    row.Name,
			StoreID: row.StoreID,
			Unit:    row.Unit,
		}
		// Leave absent cells nil so the assembler reports them as missing.
		if strings.TrimSpace(row.Quantity) != "" {
			line.Quantity = row.Quantity
		}
		if strings.TrimSpace(row.Price) != "" {
			line.Price = row.Price
		}
		items = append(items, line)
	}
	return items, nil
}

func runStock(ctx context.Context, svc app.ApplicationService, env Env, args []string) error {
	fs := flag.NewFlagSet("stock", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var sf sessionFlags
	sf.register(fs)
	store := fs.String("store", "", "only products of this store")
	search := fs.String("q", "", "search text")
	negative := fs.Bool("negative", false, "only products with negative stock")
	pageSize := fs.Int("limit", 100, "maximum rows")
	if _, err := parseInterspersed(fs, args); err != nil {
		return err
	}

	res, err := svc.ListProducts(ctx, sf.session(), app.ListProductsRequest{
		StoreID:      *store,
		Search:       *search,
		NegativeOnly: *negative,
		PageSize:     *pageSize,
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(env.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SKU\tNAME\tSTORE\tQTY\tAVG COST\tVALUE\t")
	for _, p := range res.Products {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t\n",
			p.SKU, p.Name, p.StoreID, p.Quantity, p.AverageCost.StringFixed(4), p.InventoryValue.StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "%d of %d products\n", len(res.Products), res.Total)
	return nil
}

// parseInterspersed parses flags that may appear after positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, fmt.Errorf("%s: %w\n%s", fs.Name(), err, Usage)
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
