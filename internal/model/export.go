package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"bank-intel/internal/common"
)

// Encode renders a built-in artifact as the JSON envelope LoadStore reads.
func Encode(a Artifact, version string) ([]byte, error) {
	h := header{Kind: a.Kind(), Version: version, FeatureNames: a.Features()}

	var v interface{}
	switch x := a.(type) {
	case *StandardScaler:
		v = struct {
			header
			scalerParams
		}{h, scalerParams{Mean: x.mean, Scale: x.scale}}
	case *MinMaxScaler:
		v = struct {
			header
			scalerParams
		}{h, scalerParams{Min: x.min, Scale: x.scale}}
	case *LogisticRegression:
		rows, _ := x.coef.Dims()
		coef := make([][]float64, rows)
		for i := range coef {
			coef[i] = x.coef.RawRowView(i)
		}
		v = struct {
			header
			logisticParams
		}{h, logisticParams{Coef: coef, Intercept: x.intercept, Classes: x.classes}}
	case *LinearRegression:
		v = struct {
			header
			linearParams
		}{h, linearParams{Coef: x.coef, Intercept: x.intercept}}
	case *KMeans:
		v = struct {
			header
			kmeansParams
		}{h, kmeansParams{ClusterCenters: x.centers}}
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrArtifact, a)
	}
	return json.MarshalIndent(v, "", "  ")
}

// Save writes all six artifacts into dir under the names LoadStore expects.
func Save(dir string, a Artifacts, version string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	for name, art := range map[string]Artifact{
		common.ArtifactLoanClassifier:  a.LoanClassifier,
		common.ArtifactLoanScaler:      a.LoanScaler,
		common.ArtifactAmountRegressor: a.AmountRegressor,
		common.ArtifactAmountScaler:    a.AmountScaler,
		common.ArtifactFraudClusterer:  a.FraudClusterer,
		common.ArtifactFraudScaler:     a.FraudScaler,
	} {
		if art == nil {
			return fmt.Errorf("%w: %s is missing", ErrArtifact, name)
		}
		data, err := Encode(art, version)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		path := filepath.Join(dir, name+common.ArtifactFileExtension)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
