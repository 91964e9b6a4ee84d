package metrics

import (
	"fmt"
	"math"
	"sort"

	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// VecFromColumn は行列の j 列目をベクトルとしてコピーする
func VecFromColumn(m mat.Matrix, j int) *mat.VecDense {
	r, _ := m.Dims()
	return mat.NewVecDense(r, mat.Col(nil, j, m))
}

// validatePair は2つのベクトルが空でなく同じ長さであることを検証する
func validatePair(op string, yTrue, yOther *mat.VecDense) (int, error) {
	if yTrue == nil || yOther == nil {
		return 0, errors.NewValueError(op, "nil vector")
	}
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yOther.Len() != n {
		return 0, errors.NewDimensionError(op, n, yOther.Len(), 0)
	}
	return n, nil
}

// checkBinaryTarget は正解ラベルが高々2種類の値しか持たないことを検証する
func checkBinaryTarget(op string, yTrue *mat.VecDense) error {
	seen := make(map[float64]struct{}, 2)
	for i := 0; i < yTrue.Len(); i++ {
		seen[yTrue.AtVec(i)] = struct{}{}
		if len(seen) > 2 {
			return errors.NewValueError(op, "target is not binary: found more than two distinct labels")
		}
	}
	return nil
}

// binaryCounts は陽性ラベル posLabel に対する TP, FP, FN, TN を数える
func binaryCounts(yTrue, yPred *mat.VecDense, posLabel float64) (tp, fp, fn, tn int) {
	for i := 0; i < yTrue.Len(); i++ {
		actual := yTrue.AtVec(i) == posLabel
		predicted := yPred.AtVec(i) == posLabel
		switch {
		case actual && predicted:
			tp++
		case !actual && predicted:
			fp++
		case actual && !predicted:
			fn++
		default:
			tn++
		}
	}
	return tp, fp, fn, tn
}

// ConfusionMatrix は混同行列を計算する
//
// labels は行と列の順序を決める。nil の場合は yTrue と yPred に現れる値を昇順に並べたものを使う。
// 二値分類で labels = [負例, 正例] とすると [[TN, FP], [FN, TP]] になる。
// labels に含まれない値を持つサンプルは数えない。
func ConfusionMatrix(yTrue, yPred *mat.VecDense, labels []float64) (*mat.Dense, error) {
	n, err := validatePair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return nil, err
	}

	if labels == nil {
		set := make(map[float64]struct{})
		for i := 0; i < n; i++ {
			set[yTrue.AtVec(i)] = struct{}{}
			set[yPred.AtVec(i)] = struct{}{}
		}
		for v := range set {
			labels = append(labels, v)
		}
		sort.Float64s(labels)
	}
	if len(labels) == 0 {
		return nil, errors.NewValueError("ConfusionMatrix", "labels must not be empty")
	}

	pos := make(map[float64]int, len(labels))
	for i, l := range labels {
		if _, dup := pos[l]; dup {
			return nil, errors.NewValueError("ConfusionMatrix", fmt.Sprintf("duplicate label %v", l))
		}
		pos[l] = i
	}

	cm := mat.NewDense(len(labels), len(labels), nil)
	for i := 0; i < n; i++ {
		r, okT := pos[yTrue.AtVec(i)]
		c, okP := pos[yPred.AtVec(i)]
		if !okT || !okP {
			continue
		}
		cm.Set(r, c, cm.At(r, c)+1)
	}
	return cm, nil
}

// Precision は陽性クラスの適合率 TP / (TP + FP) を計算する
//
// 陽性と予測されたサンプルがない場合は 0 を返し、UndefinedMetricWarning を発生させる。
func Precision(yTrue, yPred *mat.VecDense, posLabel float64) (float64, error) {
	if _, err := validatePair("Precision", yTrue, yPred); err != nil {
		return 0, err
	}
	tp, fp, _, _ := binaryCounts(yTrue, yPred, posLabel)
	if tp+fp == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("precision", "no predicted samples", 0))
		return 0, nil
	}
	return float64(tp) / float64(tp+fp), nil
}

// Recall は陽性クラスの再現率 TP / (TP + FN) を計算する
//
// 正解に陽性サンプルがない場合は 0 を返し、UndefinedMetricWarning を発生させる。
func Recall(yTrue, yPred *mat.VecDense, posLabel float64) (float64, error) {
	if _, err := validatePair("Recall", yTrue, yPred); err != nil {
		return 0, err
	}
	tp, _, fn, _ := binaryCounts(yTrue, yPred, posLabel)
	if tp+fn == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("recall", "no true samples", 0))
		return 0, nil
	}
	return float64(tp) / float64(tp+fn), nil
}

// F1Score は陽性クラスのF1スコア 2TP / (2TP + FP + FN) を計算する
//
// TP, FP, FN がすべて 0 の場合は 0 を返し、UndefinedMetricWarning を発生させる。
func F1Score(yTrue, yPred *mat.VecDense, posLabel float64) (float64, error) {
	if _, err := validatePair("F1Score", yTrue, yPred); err != nil {
		return 0, err
	}
	tp, fp, fn, _ := binaryCounts(yTrue, yPred, posLabel)
	denom := 2*tp + fp + fn
	if denom == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("F-score", "no true nor predicted samples", 0))
		return 0, nil
	}
	return float64(2*tp) / float64(denom), nil
}

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := validatePair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// binaryClfCurve はスコアの降順に、各しきい値における累積 TP と FP を返す
// しきい値はスコアの異なる値ごとに1つ（降順）。
func binaryClfCurve(yTrue, scores *mat.VecDense, posLabel float64) (fps, tps, thresholds []float64) {
	n := yTrue.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores.AtVec(order[a]) > scores.AtVec(order[b])
	})

	var cumTP float64
	for k, idx := range order {
		if yTrue.AtVec(idx) == posLabel {
			cumTP++
		}
		// 同じスコアの最後のサンプルでのみしきい値を確定する
		if k+1 < n && scores.AtVec(order[k+1]) == scores.AtVec(idx) {
			continue
		}
		tps = append(tps, cumTP)
		fps = append(fps, float64(k+1)-cumTP)
		thresholds = append(thresholds, scores.AtVec(idx))
	}
	return fps, tps, thresholds
}

// PrecisionRecallCurve はしきい値ごとの適合率と再現率を計算する
//
// 戻り値はしきい値の昇順に並び、最後に (precision=1, recall=0) の点が追加される。
// そのため precision と recall の長さは thresholds より1つ長い。
// 正解に陽性サンプルがない場合、再現率はすべて1になり UndefinedMetricWarning を発生させる。
func PrecisionRecallCurve(yTrue, probas *mat.VecDense, posLabel float64) (precision, recall, thresholds []float64, err error) {
	if _, err := validatePair("PrecisionRecallCurve", yTrue, probas); err != nil {
		return nil, nil, nil, err
	}
	if err := checkBinaryTarget("PrecisionRecallCurve", yTrue); err != nil {
		return nil, nil, nil, err
	}

	fps, tps, thr := binaryClfCurve(yTrue, probas, posLabel)
	m := len(tps)
	totalPos := tps[m-1]
	if totalPos == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("recall",
			"no positive class found in y_true, recall is set to one for all thresholds", 1))
	}

	precision = make([]float64, m+1)
	recall = make([]float64, m+1)
	thresholds = make([]float64, m)
	for k := 0; k < m; k++ {
		src := m - 1 - k
		precision[k] = errors.SafeDivide(tps[src], tps[src]+fps[src])
		if totalPos == 0 {
			recall[k] = 1
		} else {
			recall[k] = tps[src] / totalPos
		}
		thresholds[k] = thr[src]
	}
	precision[m] = 1
	recall[m] = 0
	return precision, recall, thresholds, nil
}

// AreaUnderCurve は台形則で曲線下面積を計算する
//
// x は単調増加または単調減少でなければならない。
func AreaUnderCurve(x, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0, errors.NewDimensionError("AreaUnderCurve", len(x), len(y), 0)
	}
	if len(x) < 2 {
		return 0, errors.NewValueError("AreaUnderCurve",
			fmt.Sprintf("at least 2 points are needed to compute area under curve, got %d", len(x)))
	}

	direction := 1.0
	increasing, decreasing := true, true
	for i := 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		if d < 0 {
			increasing = false
		}
		if d > 0 {
			decreasing = false
		}
	}
	switch {
	case increasing:
	case decreasing:
		direction = -1
	default:
		return 0, errors.NewValueError("AreaUnderCurve", "x is neither increasing nor decreasing")
	}

	var area float64
	for i := 1; i < len(x); i++ {
		area += (x[i] - x[i-1]) * (y[i] + y[i-1]) / 2
	}
	return direction * area, nil
}

// AUCPR は適合率-再現率曲線下の面積を台形則で計算する
//
// probas は陽性クラスの予測確率（またはスコア）。
func AUCPR(yTrue, probas *mat.VecDense, posLabel float64) (float64, error) {
	precision, recall, _, err := PrecisionRecallCurve(yTrue, probas, posLabel)
	if err != nil {
		return 0, err
	}
	return AreaUnderCurve(recall, precision)
}

// AveragePrecision は適合率の再現率増分による加重平均 Σ(R_n - R_{n-1}) P_n を計算する
//
// 台形則を使う AUCPR と違い、補間を行わない階段状の面積になる。
// 正解に陽性サンプルがない場合は 0 を返す。
func AveragePrecision(yTrue, scores *mat.VecDense, posLabel float64) (float64, error) {
	if _, err := validatePair("AveragePrecision", yTrue, scores); err != nil {
		return 0, err
	}
	if err := checkBinaryTarget("AveragePrecision", yTrue); err != nil {
		return 0, err
	}

	_, tps, _ := binaryClfCurve(yTrue, scores, posLabel)
	if tps[len(tps)-1] == 0 {
		return 0, nil
	}

	precision, recall, _, err := PrecisionRecallCurve(yTrue, scores, posLabel)
	if err != nil {
		return 0, err
	}
	var ap float64
	for i := 0; i < len(recall)-1; i++ {
		ap -= (recall[i+1] - recall[i]) * precision[i]
	}
	return ap, nil
}

// ROCAUC はROC曲線下の面積（Mann-Whitney U 統計量）を計算する
//
// 同順位のスコアには平均順位を与える。片方のクラスしか存在しない場合は 0.5 を返す。
func ROCAUC(yTrue, scores *mat.VecDense, posLabel float64) (float64, error) {
	n, err := validatePair("ROCAUC", yTrue, scores)
	if err != nil {
		return 0, err
	}
	if err := checkBinaryTarget("ROCAUC", yTrue); err != nil {
		return 0, err
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return scores.AtVec(order[a]) < scores.AtVec(order[b])
	})

	var rankSumPos, nPos float64
	for start := 0; start < n; {
		end := start + 1
		for end < n && scores.AtVec(order[end]) == scores.AtVec(order[start]) {
			end++
		}
		// 1始まりの順位 start+1..end の平均
		avgRank := float64(start+1+end) / 2
		for k := start; k < end; k++ {
			if yTrue.AtVec(order[k]) == posLabel {
				rankSumPos += avgRank
				nPos++
			}
		}
		start = end
	}

	nNeg := float64(n) - nPos
	if nPos == 0 || nNeg == 0 {
		return 0.5, nil
	}
	u := rankSumPos - nPos*(nPos+1)/2
	auc := u / (nPos * nNeg)
	if math.IsNaN(auc) {
		return 0, errors.NewNumericalInstabilityError("ROCAUC", []float64{u}, 0)
	}
	return auc, nil
}
