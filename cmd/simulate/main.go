/*
main.go - Offline distribution preview

PURPOSE:
  Computes an allocation plan without a server or database, for trustees
  checking a policy document against a roster before a real run. Nothing
  is submitted for approval and nothing is persisted.

INPUTS:
  --roster     YAML roster file (see roster.go), or
  --scenario   a built-in demo roster (family-waqf, loan-arrears)
  --policies   policy document; standard terms when omitted
  --terms      terms ID inside the document

EXAMPLES:
  ./simulate --scenario=family-waqf --revenue=200000
  ./simulate --roster=roster.yaml --policies=terms.yaml --terms=family-2025 --as-of=2025-03-31
  ./simulate --print-defaults > terms.yaml
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/warp/waqf-engine/api"
	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/audit"
	"github.com/warp/waqf-engine/distribution"
	"github.com/warp/waqf-engine/factory"
	"github.com/warp/waqf-engine/logging"
	"github.com/warp/waqf-engine/money"
	"github.com/warp/waqf-engine/store/memory"
	"github.com/warp/waqf-engine/waqf"
)

type options struct {
	roster        string
	scenario      string
	policies      string
	terms         string
	revenue       string
	asOf          string
	printDefaults bool
	verbose       bool
}

func main() {
	var opts options
	pflag.StringVar(&opts.roster, "roster", "", "YAML roster file")
	pflag.StringVar(&opts.scenario, "scenario", "", "built-in demo roster")
	pflag.StringVar(&opts.policies, "policies", "", "policy document")
	pflag.StringVar(&opts.terms, "terms", "", "terms ID in the policy document")
	pflag.StringVar(&opts.revenue, "revenue", "100000", "gross revenue")
	pflag.StringVar(&opts.asOf, "as-of", "", "run date, YYYY-MM-DD (default today)")
	pflag.BoolVar(&opts.printDefaults, "print-defaults", false, "print the standard terms as a policy document and exit")
	pflag.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	pflag.Parse()

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	log, err := logging.New(logging.Config{Level: level, Format: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(context.Background(), opts, os.Stdout, log); err != nil {
		fmt.Fprintf(os.Stderr, "simulate: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer, log zerolog.Logger) error {
	pf := factory.NewPolicyFactory()
	if opts.printDefaults {
		data, err := pf.MarshalYAML(pf.ToDocument("default", waqf.StandardTerms()))
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	terms, err := loadTerms(pf, opts.policies, opts.terms)
	if err != nil {
		return err
	}
	revenue, err := money.Parse(opts.revenue)
	if err != nil {
		return fmt.Errorf("--revenue: %w", err)
	}
	asOf := time.Now().UTC().Truncate(24 * time.Hour)
	if opts.asOf != "" {
		asOf, err = time.Parse("2006-01-02", opts.asOf)
		if err != nil {
			return fmt.Errorf("--as-of: %w", err)
		}
	}

	store := memory.New()
	if err := loadRoster(ctx, store, opts, asOf); err != nil {
		return err
	}

	engine := approval.NewEngine(audit.NewMemoryLog(), approval.Options{Logger: log})
	service, err := waqf.NewService(waqf.Deps{
		Roster: store,
		Plans:  store,
		Engine: engine,
		Logger: log,
	})
	if err != nil {
		return err
	}

	plan, err := service.Preview(ctx, waqf.RunRequest{AsOf: asOf, GrossRevenue: revenue, Terms: terms})
	if err != nil {
		return err
	}
	printPlan(out, plan)
	return nil
}

func loadTerms(pf *factory.PolicyFactory, path, id string) (waqf.Terms, error) {
	if path == "" {
		if id != "" && id != "default" {
			return waqf.Terms{}, fmt.Errorf("--terms %q needs --policies", id)
		}
		return waqf.StandardTerms(), nil
	}
	catalog, err := pf.LoadFile(path)
	if err != nil {
		return waqf.Terms{}, err
	}
	if id == "" {
		ids := catalog.TermIDs()
		if len(ids) != 1 {
			return waqf.Terms{}, fmt.Errorf("%s defines %d terms, pick one with --terms", path, len(ids))
		}
		id = ids[0]
	}
	return catalog.Terms(id)
}

func loadRoster(ctx context.Context, store *memory.Memory, opts options, asOf time.Time) error {
	switch {
	case opts.roster != "" && opts.scenario != "":
		return errors.New("use either --roster or --scenario")
	case opts.roster != "":
		data, err := os.ReadFile(opts.roster)
		if err != nil {
			return err
		}
		roster, err := parseRoster(data)
		if err != nil {
			return fmt.Errorf("%s: %w", opts.roster, err)
		}
		return roster.loadInto(ctx, store, asOf)
	case opts.scenario != "":
		for _, s := range api.Scenarios() {
			if s.ID == opts.scenario {
				return s.LoadInto(ctx, store)
			}
		}
		return fmt.Errorf("unknown scenario %q", opts.scenario)
	}
	return errors.New("one of --roster or --scenario is required")
}

func printPlan(out io.Writer, plan *distribution.AllocationPlan) {
	fmt.Fprintf(out, "Plan %s  policy %s  as of %s\n\n", plan.ID, plan.PolicyID, plan.AsOf.Format("2006-01-02"))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "Gross revenue\t%s\t\n", plan.GrossRevenue)
	for _, d := range plan.Deductions {
		fmt.Fprintf(w, "  - %s (%s%%)\t%s\t\n", d.Name, d.Percent, d.Amount)
	}
	fmt.Fprintf(w, "Distributable\t%s\t\n", plan.DistributableAmount)
	fmt.Fprintf(w, "Heir pool\t%s\t\n", plan.HeirPool)
	fmt.Fprintf(w, "Ordinary pool\t%s\t\n", plan.OrdinaryPool)
	w.Flush()

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BENEFICIARY\tPOOL\tAMOUNT\tLOAN\tNET")
	for _, a := range plan.Allocations {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.BeneficiaryID, a.Pool, a.Amount, a.LoanRepayment, a.NetPayout)
	}
	w.Flush()

	if len(plan.Arrears) > 0 {
		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ARREARS\tLOAN\tDUE\tCOLLECTED\tSHORTFALL")
		for _, a := range plan.Arrears {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.BeneficiaryID, a.LoanID, a.Due, a.Collected, a.Shortfall)
		}
		w.Flush()
	}
}
