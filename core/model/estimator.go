package model

import "gonum.org/v1/gonum/mat"

// TrainStatus は直近の学習の結果を表す
type TrainStatus int

const (
	// StatusUntrained はTrainがまだ完了していない状態
	StatusUntrained TrainStatus = iota
	// StatusConverged は有限なパラメータで学習が完了した状態
	StatusConverged
	// StatusDegenerate は正則化の上限を超えてもパラメータが有限にならなかった状態
	StatusDegenerate
)

func (s TrainStatus) String() string {
	switch s {
	case StatusUntrained:
		return "untrained"
	case StatusConverged:
		return "converged"
	case StatusDegenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

// Estimator は推定手法の共通インターフェース
type Estimator interface {
	// Train はモデルのパラメータを学習する。xVal, zValはnilでもよい
	Train(x, z, xVal, zVal mat.Matrix) error

	// TrainedParameters は学習済みのパラメータを返す
	TrainedParameters() ([]float64, error)

	// CalcValMMR は検証データ上のカーネルMMRを計算する
	CalcValMMR(xVal, zVal mat.Matrix) (float64, error)

	// Status は直近の学習の状態を返す
	Status() TrainStatus

	// Name は推定手法の名前を返す
	Name() string
}
