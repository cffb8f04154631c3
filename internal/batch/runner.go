package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bank-intel/internal/ml"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the runner
type MetricsInterface interface {
	BatchRunsInc(domain string)
	BatchRowsAdd(domain string, n int)
	BatchAbortsInc(domain string)
}

// RunRecorder receives a summary of every finished run.
type RunRecorder interface {
	RecordBatchRun(s Summary) error
}

// Options controls how a run treats failures and parallelism.
type Options struct {
	// Workers is the number of rows decided concurrently. Values below 2 run
	// sequentially.
	Workers int
	// ContinueOnError writes an error cell for a failing row instead of
	// aborting the whole run.
	ContinueOnError bool
}

// RowError ties a failure to its 1-based data row.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

// Summary describes a finished run.
type Summary struct {
	ID       string    `json:"id"`
	Domain   ml.Domain `json:"domain"`
	Rows     int       `json:"rows"`
	Failed   int       `json:"failed"`
	Aborted  bool      `json:"aborted"`
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Result is the output of a completed run. Decisions[i] belongs to input row
// i; it is the zero Decision for rows listed in Failures.
type Result struct {
	Dataset   *Dataset
	Decisions []ml.Decision
	Failures  []RowError
	Summary   Summary
}

// RowResult is what Stream emits for each row.
type RowResult struct {
	Row      int         `json:"row"`
	Decision ml.Decision `json:"decision"`
	Err      error       `json:"-"`
}

// Runner applies a DecisionMaker to whole datasets.
type Runner struct {
	dm       ml.DecisionMaker
	opts     Options
	metrics  MetricsInterface
	recorder RunRecorder
}

// NewRunner returns a runner. metrics and recorder may be nil.
func NewRunner(dm ml.DecisionMaker, opts Options, metrics MetricsInterface, recorder RunRecorder) *Runner {
	return &Runner{dm: dm, opts: opts, metrics: metrics, recorder: recorder}
}

// Run decides every row of ds and returns a new dataset carrying the domain's
// output column. Rows keep their input order and ds is left untouched. Unless
// ContinueOnError is set the first failing row aborts the run and no partial
// result is returned.
func (r *Runner) Run(ctx context.Context, ds *Dataset, domain ml.Domain) (*Result, error) {
	summary, err := r.begin(ds, domain)
	if err != nil {
		return nil, err
	}

	decisions, errs := r.decideAll(ctx, ds, domain)
	summary.Rows = ds.Len()

	if err := ctx.Err(); err != nil {
		return nil, r.abort(summary, fmt.Errorf("batch %s cancelled: %w", domain, err))
	}

	var failures []RowError
	cells := make([]string, ds.Len())
	for i := range cells {
		if errs[i] == nil {
			cells[i] = decisions[i].String()
			continue
		}
		rowErr := RowError{Row: i + 1, Err: errs[i]}
		if !r.opts.ContinueOnError {
			return nil, r.abort(summary, &rowErr)
		}
		failures = append(failures, rowErr)
		cells[i] = fmt.Sprintf("ERROR (%v)", errs[i])
	}

	summary.Failed = len(failures)
	r.end(&summary)
	return &Result{
		Dataset:   ds.withColumn(domain.OutputColumn(), cells),
		Decisions: decisions,
		Failures:  failures,
		Summary:   summary,
	}, nil
}

// Stream decides rows one at a time in input order and hands each result to
// fn. In abort mode the first failing row stops the stream with a RowError;
// otherwise failures reach fn through RowResult.Err. An error from fn stops
// the stream and is returned as is.
func (r *Runner) Stream(ctx context.Context, ds *Dataset, domain ml.Domain, fn func(RowResult) error) (Summary, error) {
	summary, err := r.begin(ds, domain)
	if err != nil {
		return summary, err
	}

	for i := 0; i < ds.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return summary, r.abort(summary, fmt.Errorf("batch %s cancelled: %w", domain, err))
		}
		d, err := r.dm.DecideRow(domain, ds.Row(i))
		summary.Rows++
		if err != nil {
			rowErr := &RowError{Row: i + 1, Err: err}
			if !r.opts.ContinueOnError {
				return summary, r.abort(summary, rowErr)
			}
			summary.Failed++
			err = rowErr
		}
		if ferr := fn(RowResult{Row: i + 1, Decision: d, Err: err}); ferr != nil {
			return summary, r.abort(summary, ferr)
		}
	}

	r.end(&summary)
	return summary, nil
}

func (r *Runner) begin(ds *Dataset, domain ml.Domain) (Summary, error) {
	summary := Summary{ID: uuid.NewString(), Domain: domain, Started: time.Now()}
	if domain.OutputColumn() == "" {
		return summary, fmt.Errorf("%w: %q", ml.ErrUnknownDomain, domain)
	}
	if ds == nil {
		return summary, fmt.Errorf("batch %s: dataset is nil", domain)
	}
	if err := ds.Require(domain.Columns()); err != nil {
		return summary, fmt.Errorf("batch %s: %w", domain, err)
	}
	if r.metrics != nil {
		r.metrics.BatchRunsInc(string(domain))
	}
	return summary, nil
}

func (r *Runner) end(summary *Summary) {
	summary.Finished = time.Now()
	if r.metrics != nil {
		r.metrics.BatchRowsAdd(string(summary.Domain), summary.Rows)
	}
	r.record(*summary)

	log.Info().
		Str("id", summary.ID).
		Str("domain", string(summary.Domain)).
		Int("rows", summary.Rows).
		Int("failed", summary.Failed).
		Dur("elapsed", summary.Finished.Sub(summary.Started)).
		Msg("batch completed")
}

func (r *Runner) abort(summary Summary, err error) error {
	summary.Aborted = true
	summary.Error = err.Error()
	summary.Finished = time.Now()
	if r.metrics != nil {
		r.metrics.BatchRowsAdd(string(summary.Domain), summary.Rows)
		r.metrics.BatchAbortsInc(string(summary.Domain))
	}
	r.record(summary)

	log.Warn().
		Err(err).
		Str("id", summary.ID).
		Str("domain", string(summary.Domain)).
		Msg("batch aborted")
	return err
}

func (r *Runner) record(summary Summary) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordBatchRun(summary); err != nil {
		log.Warn().Err(err).Str("id", summary.ID).Msg("failed to record batch run")
	}
}

// decideAll fills decisions and errs by row index. Rows are dispatched in
// order and a dispatched row always completes, so in abort mode the lowest
// failing index is the first failing row even when workers run ahead.
func (r *Runner) decideAll(ctx context.Context, ds *Dataset, domain ml.Domain) ([]ml.Decision, []error) {
	n := ds.Len()
	decisions := make([]ml.Decision, n)
	errs := make([]error, n)

	workers := r.opts.Workers
	if workers < 2 {
		for i := 0; i < n; i++ {
			if ctx.Err() != nil {
				break
			}
			decisions[i], errs[i] = r.dm.DecideRow(domain, ds.Row(i))
			if errs[i] != nil && !r.opts.ContinueOnError {
				break
			}
		}
		return decisions, errs
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				decisions[i], errs[i] = r.dm.DecideRow(domain, ds.Row(i))
				if errs[i] != nil && !r.opts.ContinueOnError {
					cancel()
				}
			}
		}()
	}

dispatch:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return decisions, errs
}
