// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

// Package evaluate scores FM predictions against labels.
//
// Regression reports RMSE and MAE. Classification takes raw scores and
// labels in {-1, +1} and reports mean logistic loss, accuracy at the 0.5
// probability threshold, and ROC AUC. AUC is NaN when only one class is
// present.
package evaluate

import (
	"errors"
	"fmt"
	"math"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/tomtom215/fmengine/internal/fm"
)

// ErrEmpty is returned when there is nothing to evaluate.
var ErrEmpty = errors.New("evaluate: no samples")

// Score holds the metrics for one evaluation. Fields that do not apply to
// the task are zero.
type Score struct {
	Task  string `json:"task"`
	Count int    `json:"count"`

	RMSE float64 `json:"rmse,omitempty"`
	MAE  float64 `json:"mae,omitempty"`

	LogLoss  float64 `json:"log_loss,omitempty"`
	Accuracy float64 `json:"accuracy,omitempty"`
	AUC      float64 `json:"-"`
}

// MarshalJSON writes AUC only for classification, and never as NaN, which
// JSON cannot represent.
func (s Score) MarshalJSON() ([]byte, error) {
	type plain Score
	out := struct {
		plain
		AUC *float64 `json:"auc,omitempty"`
	}{plain: plain(s)}
	if s.Task == fm.TaskClassification.String() && !math.IsNaN(s.AUC) {
		auc := s.AUC
		out.AUC = &auc
	}
	return json.Marshal(out)
}

// MarshalZerologObject lets a Score be logged with Event.Object.
func (s Score) MarshalZerologObject(e *zerolog.Event) {
	e.Str("task", s.Task).Int("count", s.Count)
	switch s.Task {
	case fm.TaskRegression.String():
		e.Float64("rmse", s.RMSE).Float64("mae", s.MAE)
	case fm.TaskClassification.String():
		e.Float64("log_loss", s.LogLoss).Float64("accuracy", s.Accuracy)
		if !math.IsNaN(s.AUC) {
			e.Float64("auc", s.AUC)
		}
	}
}

// Evaluate computes the metrics for task. scores are raw model outputs.
func Evaluate(task fm.Task, scores, labels []float64) (Score, error) {
	if len(scores) != len(labels) {
		return Score{}, fmt.Errorf("%w: %d scores, %d labels", fm.ErrShapeMismatch, len(scores), len(labels))
	}
	if len(scores) == 0 {
		return Score{}, ErrEmpty
	}

	s := Score{Task: task.String(), Count: len(scores)}
	switch task {
	case fm.TaskRegression:
		s.RMSE = RMSE(scores, labels)
		s.MAE = MAE(scores, labels)
	case fm.TaskClassification:
		s.LogLoss = LogLoss(scores, labels)
		s.Accuracy = Accuracy(scores, labels)
		s.AUC = AUC(scores, labels)
	default:
		return Score{}, fmt.Errorf("%w: unknown task %d", fm.ErrInvalidConfig, task)
	}
	return s, nil
}

func residuals(pred, labels []float64) []float64 {
	r := make([]float64, len(pred))
	floats.SubTo(r, pred, labels)
	return r
}

// RMSE is the root mean squared error.
func RMSE(pred, labels []float64) float64 {
	return floats.Norm(residuals(pred, labels), 2) / math.Sqrt(float64(len(pred)))
}

// MAE is the mean absolute error.
func MAE(pred, labels []float64) float64 {
	return floats.Norm(residuals(pred, labels), 1) / float64(len(pred))
}

// LogLoss is the mean of log(1 + exp(-y * score)) for labels in {-1, +1}.
func LogLoss(scores, labels []float64) float64 {
	losses := make([]float64, len(scores))
	for i, raw := range scores {
		losses[i] = fm.Softplus(-labels[i] * raw)
	}
	return stat.Mean(losses, nil)
}

// Accuracy is the fraction of samples whose predicted class matches the
// label. A score of exactly 0 predicts the positive class.
func Accuracy(scores, labels []float64) float64 {
	correct := 0
	for i, raw := range scores {
		if (raw >= 0) == (labels[i] > 0) {
			correct++
		}
	}
	return float64(correct) / float64(len(scores))
}

// AUC is the area under the ROC curve. Tied scores count as half-correct.
// It returns NaN unless both classes are present.
func AUC(scores, labels []float64) float64 {
	y := make([]float64, len(scores))
	copy(y, scores)
	classes := make([]bool, len(labels))
	positives := 0
	for i, l := range labels {
		classes[i] = l > 0
		if classes[i] {
			positives++
		}
	}
	if positives == 0 || positives == len(labels) {
		return math.NaN()
	}

	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}
