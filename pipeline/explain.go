package pipeline

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/YuminosukeSato/imbalanced/core/model"
	"github.com/YuminosukeSato/imbalanced/pkg/chart"
	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"github.com/YuminosukeSato/imbalanced/pkg/log"
	"github.com/YuminosukeSato/imbalanced/shap"
	"gonum.org/v1/gonum/mat"
)

// Chart names under Config.ReportDir, without extension
const (
	FeatureImportanceChart = "feature_importance"
	ShapSummaryBarChart    = "shap_summary_bar"
	ShapSummaryChart       = "shap_summary"
	ShapForceChartPrefix   = "shap_force_"
)

// shapMaxDisplay caps the features drawn in the SHAP summary charts
const shapMaxDisplay = 20

// FeatureImportance pairs a feature name with its importance score
type FeatureImportance struct {
	Feature    string  `json:"feature" yaml:"feature"`
	Importance float64 `json:"importance" yaml:"importance"`
}

// ChartPath returns where the chart called name is written
func (r *Runner) ChartPath(name string) string {
	return filepath.Join(r.cfg.ReportDir, name+"."+r.cfg.ChartFormat)
}

// PlotBuiltinFeatureImportance ranks the model's impurity importances,
// draws the topN largest as a horizontal bar chart and returns them in
// descending order. Ties keep feature order. topN <= 0 uses Config.TopN.
func (r *Runner) PlotBuiltinFeatureImportance(m model.FeatureImporter, featureNames []string, topN int) ([]FeatureImportance, error) {
	if topN <= 0 {
		topN = r.cfg.TopN
	}
	importances, err := m.FeatureImportances()
	if err != nil {
		return nil, err
	}
	if len(featureNames) != len(importances) {
		return nil, errors.NewDimensionError("PlotBuiltinFeatureImportance",
			len(importances), len(featureNames), 1)
	}

	ranked := make([]FeatureImportance, len(importances))
	for j, v := range importances {
		ranked[j] = FeatureImportance{Feature: featureNames[j], Importance: v}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Importance > ranked[b].Importance
	})
	if topN < len(ranked) {
		ranked = ranked[:topN]
	}

	bars := make([]chart.Bar, len(ranked))
	for i, fi := range ranked {
		bars[i] = chart.Bar{Label: fi.Feature, Value: fi.Importance}
	}
	path := r.ChartPath(FeatureImportanceChart)
	if err := chart.HorizontalBars(path, "Top Feature Importances (Random Forest)", "Importance", bars, chart.Blue); err != nil {
		return nil, err
	}

	r.logger().Info("Feature importance chart written",
		log.OperationKey, log.OperationExplain,
		log.FeaturesKey, len(importances),
		"report.top_n", len(ranked),
		log.ArtifactPathKey, path,
	)
	return ranked, nil
}

// ShapGlobalExplanation computes SHAP values of m on X for the positive
// (larger) class and writes the mean |SHAP| bar chart and the summary chart.
func (r *Runner) ShapGlobalExplanation(m shap.TreeEnsemble, X mat.Matrix, featureNames []string) (*shap.TreeExplainer, *mat.Dense, error) {
	start := time.Now()
	explainer, err := shap.NewTreeExplainer(m)
	if err != nil {
		return nil, nil, err
	}
	values, err := explainer.ShapValues(X)
	if err != nil {
		return nil, nil, err
	}

	if err := shap.SummaryBarPlot(values, featureNames, shapMaxDisplay, r.ChartPath(ShapSummaryBarChart)); err != nil {
		return nil, nil, err
	}
	if err := shap.SummaryPlot(values, X, featureNames, shapMaxDisplay, r.ChartPath(ShapSummaryChart)); err != nil {
		return nil, nil, err
	}

	rows, cols := values.Dims()
	r.logger().Info("SHAP summary written",
		log.OperationKey, log.OperationExplain,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		"shap.expected_value", explainer.ExpectedValue(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return explainer, values, nil
}

// ShapForcePlot writes the contribution chart of row index, using SHAP values
// already computed by ShapGlobalExplanation on the same X.
func (r *Runner) ShapForcePlot(explainer *shap.TreeExplainer, values, X mat.Matrix, index int, featureNames []string) (*shap.Explanation, error) {
	if explainer == nil {
		return nil, errors.NewValidationError("explainer", "must not be nil", nil)
	}
	exp, err := explainer.ExplanationFor(values, X, index, featureNames)
	if err != nil {
		return nil, err
	}
	path := r.ChartPath(fmt.Sprintf("%s%d", ShapForceChartPrefix, index))
	if err := shap.ForcePlot(exp, shapMaxDisplay, path); err != nil {
		return nil, err
	}

	r.logger().Info("SHAP force plot written",
		log.OperationKey, log.OperationExplain,
		"shap.row", index,
		"shap.prediction", exp.Prediction,
		log.ArtifactPathKey, path,
	)
	return exp, nil
}

// PlotBuiltinFeatureImportance runs Runner.PlotBuiltinFeatureImportance with DefaultConfig
func PlotBuiltinFeatureImportance(m model.FeatureImporter, featureNames []string, topN int) ([]FeatureImportance, error) {
	return defaultRunner().PlotBuiltinFeatureImportance(m, featureNames, topN)
}

// ShapGlobalExplanation runs Runner.ShapGlobalExplanation with DefaultConfig
func ShapGlobalExplanation(m shap.TreeEnsemble, X mat.Matrix, featureNames []string) (*shap.TreeExplainer, *mat.Dense, error) {
	return defaultRunner().ShapGlobalExplanation(m, X, featureNames)
}

// ShapForcePlot runs Runner.ShapForcePlot with DefaultConfig
func ShapForcePlot(explainer *shap.TreeExplainer, values, X mat.Matrix, index int, featureNames []string) (*shap.Explanation, error) {
	return defaultRunner().ShapForcePlot(explainer, values, X, index, featureNames)
}
