package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"bank-intel/internal/ml"
	"bank-intel/internal/model"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Fits small models on synthetic data and writes them, plus sample input
// files, so the CLI and server can be tried without the training notebooks.
func main() {
	var (
		modelDir  = flag.String("models", "models", "Model output directory")
		sampleDir = flag.String("samples", "samples", "Sample CSV output directory")
		rows      = flag.Int("rows", 2000, "Synthetic training rows per model")
		seed      = flag.Int64("seed", 42, "Random seed")
		version   = flag.String("version", "synthetic-1", "Version tag written into each artifact")
	)
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	fmt.Printf("Fitting models on %d synthetic rows...\n", *rows)

	loanX, loanY := loanData(rng, *rows)
	loanScaler, loanScaled := fitStandard(ml.DomainLoanApproval, loanX)
	classifier := fitLogistic(loanScaled, loanY)

	amountX, amountY := amountData(rng, *rows)
	amountScaler, amountScaled := fitStandard(ml.DomainLoanAmount, amountX)
	regressor := fitLinear(amountScaled, amountY)

	fraudX, fraudGroup := fraudData(rng, *rows)
	fraudScaler, fraudScaled := fitMinMax(fraudX)
	clusterer, suspicious := fitKMeans(fraudScaled, fraudGroup, 3)

	arts := model.Artifacts{
		LoanScaler:      loanScaler,
		LoanClassifier:  classifier,
		AmountScaler:    amountScaler,
		AmountRegressor: regressor,
		FraudScaler:     fraudScaler,
		FraudClusterer:  clusterer,
	}
	if err := model.Save(*modelDir, arts, *version); err != nil {
		log.Fatalf("Failed to save models: %v", err)
	}
	fmt.Printf("✓ Wrote 6 artifacts to %s\n", *modelDir)
	fmt.Printf("  Fraud transactions fall in cluster %d (set SUSPICIOUS_CLUSTER=%d)\n", suspicious, suspicious)

	if err := writeSamples(rng, *sampleDir); err != nil {
		log.Fatalf("Failed to write samples: %v", err)
	}
	fmt.Printf("✓ Wrote sample inputs to %s\n", *sampleDir)
}

func loanData(rng *rand.Rand, n int) ([][]float64, []float64) {
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		income := uniform(rng, 15000, 150000)
		credit := uniform(rng, 300, 850)
		loan := uniform(rng, 1000, 50000)
		dti := uniform(rng, 5, 70)
		emp := float64(rng.Intn(3))
		x[i] = []float64{income, credit, loan, dti, emp}

		score := (credit-620)/60 - (dti-40)/10 + (income-loan)/40000 + rng.NormFloat64()*0.5
		if emp == float64(ml.Unemployed) {
			score -= 3
		}
		if score > 0 {
			y[i] = 1
		}
	}
	return x, y
}

func amountData(rng *rand.Rand, n int) ([][]float64, []float64) {
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		income := uniform(rng, 15000, 200000)
		credit := uniform(rng, 300, 850)
		dti := uniform(rng, 5, 60)
		emp := float64(rng.Intn(3))
		x[i] = []float64{income, credit, dti, emp}

		amount := 0.3*income + 40*(credit-300) - 800*dti - 8000*emp + rng.NormFloat64()*2000
		y[i] = math.Max(0, amount)
	}
	return x, y
}

// fraudData draws three groups. Group 0 is fraud-like: large mobile transfers
// from small balances by young account holders.
func fraudData(rng *rand.Rand, n int) ([][]float64, []int) {
	x := make([][]float64, n)
	group := make([]int, n)
	for i := range x {
		g := rng.Intn(10)
		switch {
		case g == 0:
			group[i] = 0
			x[i] = []float64{uniform(rng, 5000, 20000), uniform(rng, 0, 2000), uniform(rng, 18, 30),
				float64(ml.Transfer), float64(rng.Intn(3)), float64(ml.MobileApp)}
		case g < 6:
			group[i] = 1
			x[i] = []float64{uniform(rng, 5, 300), uniform(rng, 2000, 60000), uniform(rng, 25, 70),
				float64(ml.Debit), float64(rng.Intn(2)), float64(ml.POS)}
		default:
			group[i] = 2
			x[i] = []float64{uniform(rng, 50, 2000), uniform(rng, 1000, 30000), uniform(rng, 30, 80),
				float64(ml.BillPayment), float64(ml.Entertainment), float64(rng.Intn(4))}
		}
	}
	return x, group
}

func fitStandard(d ml.Domain, x [][]float64) (*model.StandardScaler, [][]float64) {
	cols := len(x[0])
	mean := make([]float64, cols)
	scale := make([]float64, cols)
	for j := 0; j < cols; j++ {
		mean[j], scale[j] = stat.PopMeanStdDev(column(x, j), nil)
	}
	s, err := model.NewStandardScaler(d.Columns(), mean, scale)
	if err != nil {
		log.Fatalf("Failed to build scaler: %v", err)
	}
	return s, transformAll(s, x)
}

func fitMinMax(x [][]float64) (*model.MinMaxScaler, [][]float64) {
	cols := len(x[0])
	mins := make([]float64, cols)
	scale := make([]float64, cols)
	for j := 0; j < cols; j++ {
		c := column(x, j)
		lo, hi := floats.Min(c), floats.Max(c)
		scale[j] = 1
		if hi > lo {
			scale[j] = 1 / (hi - lo)
		}
		mins[j] = -lo * scale[j]
	}
	s, err := model.NewMinMaxScaler(ml.DomainFraud.Columns(), mins, scale)
	if err != nil {
		log.Fatalf("Failed to build scaler: %v", err)
	}
	return s, transformAll(s, x)
}

// fitLogistic runs batch gradient descent on the log loss.
func fitLogistic(x [][]float64, y []float64) *model.LogisticRegression {
	const (
		epochs = 500
		rate   = 0.5
	)
	n, cols := len(x), len(x[0])
	w := make([]float64, cols)
	var b float64
	grad := make([]float64, cols)
	for e := 0; e < epochs; e++ {
		for j := range grad {
			grad[j] = 0
		}
		var gb float64
		for i, row := range x {
			p := 1 / (1 + math.Exp(-(floats.Dot(w, row) + b)))
			diff := p - y[i]
			floats.AddScaled(grad, diff, row)
			gb += diff
		}
		floats.AddScaled(w, -rate/float64(n), grad)
		b -= rate * gb / float64(n)
	}
	clf, err := model.NewLogisticRegression(ml.DomainLoanApproval.Columns(), [][]float64{w}, []float64{b}, []int{0, 1})
	if err != nil {
		log.Fatalf("Failed to build classifier: %v", err)
	}
	return clf
}

// fitLinear solves ordinary least squares with an intercept column.
func fitLinear(x [][]float64, y []float64) *model.LinearRegression {
	n, cols := len(x), len(x[0])
	a := mat.NewDense(n, cols+1, nil)
	for i, row := range x {
		a.Set(i, 0, 1)
		for j, v := range row {
			a.Set(i, j+1, v)
		}
	}
	var beta mat.VecDense
	if err := beta.SolveVec(a, mat.NewVecDense(n, y)); err != nil {
		log.Fatalf("Failed to fit regressor: %v", err)
	}
	coef := make([]float64, cols)
	for j := range coef {
		coef[j] = beta.AtVec(j + 1)
	}
	reg, err := model.NewLinearRegression(ml.DomainLoanAmount.Columns(), coef, beta.AtVec(0))
	if err != nil {
		log.Fatalf("Failed to build regressor: %v", err)
	}
	return reg
}

// fitKMeans runs Lloyd's algorithm seeded with the first point of each group
// and reports the cluster most fraud rows land in.
func fitKMeans(x [][]float64, group []int, k int) (*model.KMeans, int) {
	cols := len(x[0])
	centers := make([][]float64, k)
	for i, g := range group {
		if centers[g] == nil {
			centers[g] = append([]float64(nil), x[i]...)
		}
	}

	assign := make([]int, len(x))
	for iter := 0; iter < 100; iter++ {
		changed := false
		for i, row := range x {
			best, bestDist := 0, math.Inf(1)
			for c, center := range centers {
				if d := floats.Distance(row, center, 2); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, cols)
		}
		for i, row := range x {
			floats.Add(sums[assign[i]], row)
			counts[assign[i]]++
		}
		for c := range centers {
			if counts[c] > 0 {
				floats.ScaleTo(centers[c], 1/float64(counts[c]), sums[c])
			}
		}
		if !changed && iter > 0 {
			break
		}
	}

	votes := make([]int, k)
	for i, g := range group {
		if g == 0 {
			votes[assign[i]]++
		}
	}
	km, err := model.NewKMeans(ml.DomainFraud.Columns(), centers)
	if err != nil {
		log.Fatalf("Failed to build clusterer: %v", err)
	}
	return km, floats.MaxIdx(intsToFloats(votes))
}

func writeSamples(rng *rand.Rand, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	loanX, _ := loanData(rng, 20)
	amountX, _ := amountData(rng, 20)
	fraudX, _ := fraudData(rng, 20)
	for _, s := range []struct {
		domain ml.Domain
		rows   [][]float64
	}{
		{ml.DomainLoanApproval, loanX},
		{ml.DomainLoanAmount, amountX},
		{ml.DomainFraud, fraudX},
	} {
		if err := writeCSV(filepath.Join(dir, string(s.domain)+".csv"), s.domain.Columns(), s.rows); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(path string, header []string, rows [][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func transformAll(s model.Scaler, x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		t, err := s.Transform(row)
		if err != nil {
			log.Fatalf("Failed to scale row %d: %v", i, err)
		}
		out[i] = t
	}
	return out
}

func column(x [][]float64, j int) []float64 {
	c := make([]float64, len(x))
	for i, row := range x {
		c[i] = row[j]
	}
	return c
}

func intsToFloats(v []int) []float64 {
	out := make([]float64, len(v))
	for i, n := range v {
		out[i] = float64(n)
	}
	return out
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
