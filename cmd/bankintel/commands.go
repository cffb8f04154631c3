package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"bank-intel/internal/batch"
	"bank-intel/internal/common"
	"bank-intel/internal/ml"
	"bank-intel/internal/storage"

	"github.com/urfave/cli/v2"
)

// fieldFlag binds a command line flag to a dataset column.
type fieldFlag struct {
	name   string
	column string
	usage  string
}

var fieldFlags = map[ml.Domain][]fieldFlag{
	ml.DomainLoanApproval: {
		{"income", common.ColIncome, "annual income"},
		{"credit-score", common.ColCreditScore, "credit score"},
		{"loan-amount", common.ColLoanAmount, "requested loan amount"},
		{"dti", common.ColDTIRatio, "debt-to-income ratio in percent"},
		{"employment", common.ColEmploymentStatus, "employment status label or code"},
	},
	ml.DomainLoanAmount: {
		{"income", common.ColIncome, "annual income"},
		{"credit-score", common.ColCreditScore, "credit score"},
		{"dti", common.ColDTIRatio, "debt-to-income ratio in percent"},
		{"employment", common.ColEmploymentStatus, "employment status label or code"},
	},
	ml.DomainFraud: {
		{"amount", common.ColTxnAmount, "transaction amount"},
		{"balance", common.ColAccountBalance, "account balance"},
		{"age", common.ColAge, "account holder age"},
		{"type", common.ColTxnType, "transaction type label or code"},
		{"merchant", common.ColMerchantCategory, "merchant category label or code"},
		{"device", common.ColTxnDevice, "transaction device label or code"},
	},
}

func decideCommand(domain ml.Domain, name, usage string) *cli.Command {
	fields := fieldFlags[domain]
	flags := []cli.Flag{
		&cli.BoolFlag{Name: "json", Usage: "print the decision as JSON"},
	}
	for _, f := range fields {
		flags = append(flags, &cli.StringFlag{Name: f.name, Usage: f.usage, Required: true})
	}

	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: flags,
		Action: func(c *cli.Context) error {
			row := make(map[string]string, len(fields))
			for _, f := range fields {
				row[f.column] = c.String(f.name)
			}

			var dm ml.DecisionMaker
			if cl := remote(c); cl != nil {
				dm = cl
			} else {
				rt, err := loadRuntime(c)
				if err != nil {
					return err
				}
				defer rt.Close()
				dm = rt.predictor
			}

			d, err := dm.DecideRow(domain, row)
			if err != nil {
				return err
			}
			return printDecision(c.App.Writer, domain, d, c.Bool("json"))
		},
	}
}

func printDecision(w io.Writer, domain ml.Domain, d ml.Decision, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	_, err := fmt.Fprintf(w, "%s: %s\n", domain.OutputColumn(), d)
	return err
}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "Decide every row of a CSV file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "domain", Aliases: []string{"d"}, Usage: "loan_approval, loan_amount or fraud", Required: true},
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Value: "-", Usage: "input CSV (- for stdin)"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "-", Usage: "output CSV (- for stdout)"},
			&cli.IntFlag{Name: "workers", Usage: "parallel workers (overrides config)"},
			&cli.BoolFlag{Name: "continue-on-error", Usage: "write the row error into the output column instead of aborting"},
		},
		Action: func(c *cli.Context) error {
			domain, err := ml.ParseDomain(c.String("domain"))
			if err != nil {
				return err
			}

			in, err := openInput(c.String("input"))
			if err != nil {
				return err
			}
			defer in.Close()

			var out *batch.Dataset
			if cl := remote(c); cl != nil {
				out, err = cl.Batch(domain, in)
				if err != nil {
					return err
				}
			} else {
				out, err = runLocalBatch(c, domain, in)
				if err != nil {
					return err
				}
			}

			return writeOutput(c.App.Writer, c.String("output"), out)
		},
	}
}

func runLocalBatch(c *cli.Context, domain ml.Domain, in io.Reader) (*batch.Dataset, error) {
	ds, err := batch.ReadCSV(in)
	if err != nil {
		return nil, err
	}

	rt, err := loadRuntime(c)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	runner := rt.runner
	if c.IsSet("workers") || c.IsSet("continue-on-error") {
		opts := batch.Options{Workers: rt.settings.BatchWorkers, ContinueOnError: rt.settings.ContinueOnError}
		if c.IsSet("workers") {
			opts.Workers = c.Int("workers")
		}
		if c.IsSet("continue-on-error") {
			opts.ContinueOnError = c.Bool("continue-on-error")
		}
		var recorder batch.RunRecorder
		if rt.audit != nil {
			recorder = rt.audit
		}
		runner = batch.NewRunner(rt.predictor, opts, rt.metrics, recorder)
	}

	res, err := runner.Run(c.Context, ds, domain)
	if err != nil {
		return nil, err
	}
	for i := range res.Failures {
		fmt.Fprintf(c.App.ErrWriter, "warning: %v\n", &res.Failures[i])
	}
	return res.Dataset, nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

func writeOutput(stdout io.Writer, path string, ds *batch.Dataset) error {
	if path == "-" {
		return batch.WriteCSV(stdout, ds)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := batch.WriteCSV(f, ds); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List audited decisions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "domain", Aliases: []string{"d"}, Usage: "restrict to one domain"},
			&cli.DurationFlag{Name: "since", Value: 24 * time.Hour, Usage: "how far back to look"},
			&cli.IntFlag{Name: "limit", Usage: "show only the most recent N decisions"},
			&cli.BoolFlag{Name: "json", Usage: "print records as JSON"},
		},
		Action: func(c *cli.Context) error {
			domains := ml.Domains()
			var only ml.Domain
			if v := c.String("domain"); v != "" {
				d, err := ml.ParseDomain(v)
				if err != nil {
					return err
				}
				domains = []ml.Domain{d}
				only = d
			}
			until := time.Now()
			since := until.Add(-c.Duration("since"))

			var records []storage.DecisionRecord
			if cl := remote(c); cl != nil {
				recs, err := cl.Decisions(only, since, until, c.Int("limit"))
				if err != nil {
					return err
				}
				records = recs
			} else {
				recs, err := localHistory(c, domains, since, until)
				if err != nil {
					return err
				}
				records = recs
			}

			if n := c.Int("limit"); n > 0 && len(records) > n {
				records = records[len(records)-n:]
			}
			return printHistory(c.App.Writer, records, c.Bool("json"))
		},
	}
}

func localHistory(c *cli.Context, domains []ml.Domain, since, until time.Time) ([]storage.DecisionRecord, error) {
	settings, err := loadSettings(c)
	if err != nil {
		return nil, err
	}
	if settings.DataPath == "" {
		return nil, fmt.Errorf("audit log is disabled: set %s or --data-path", common.EnvDataPath)
	}
	store, err := storage.New(settings.DataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer store.Close()

	var records []storage.DecisionRecord
	for _, d := range domains {
		recs, err := store.GetDecisions(d, since, until)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	sortRecords(records)
	return records, nil
}

func sortRecords(records []storage.DecisionRecord) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Time.Before(records[j].Time) })
}

func printHistory(w io.Writer, records []storage.DecisionRecord, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tDOMAIN\tDECISION\tID")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Time.Format(time.RFC3339), r.Domain, r.Decision, r.ID)
	}
	return tw.Flush()
}

func encodingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "encodings",
		Usage: "Print the category codes used by the models",
		Action: func(c *cli.Context) error {
			tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FIELD\tCODE\tLABEL")
			for _, e := range ml.Encodings() {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Field, e.Code, e.Label)
			}
			for _, d := range ml.Domains() {
				fmt.Fprintf(tw, "\n%s\t\t%s -> %s\n", d, strings.Join(d.Columns(), ","), d.OutputColumn())
			}
			return tw.Flush()
		},
	}
}
