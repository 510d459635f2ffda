package model

import (
	"github.com/apoorvalal/Functional-GEL/pkg/errors"
)

// Snapshot はある時点のモデルパラメータを保持する（早期終了時の復元用）
type Snapshot struct {
	// Parameters はパラメータのコピー
	Parameters []float64

	// Score はスナップショット取得時の評価値（小さいほど良い）
	Score float64

	// Epoch はスナップショット取得時のエポック
	Epoch int
}

// TakeSnapshot はモデルの現在のパラメータを記録する
func TakeSnapshot(m Model, score float64, epoch int) *Snapshot {
	return &Snapshot{
		Parameters: m.Parameters(),
		Score:      score,
		Epoch:      epoch,
	}
}

// Validate はSnapshotの妥当性を検証
func (s *Snapshot) Validate() error {
	if len(s.Parameters) == 0 {
		return errors.NewValueError("model.Snapshot", "snapshot has no parameters")
	}
	if !FiniteParameters(s.Parameters) {
		return errors.NewNumericalInstabilityError("model.Snapshot", s.Parameters, s.Epoch)
	}
	return nil
}

// Restore はスナップショットのパラメータをモデルに書き戻す
func (s *Snapshot) Restore(m Model) error {
	if err := s.Validate(); err != nil {
		return err
	}
	theta := make([]float64, len(s.Parameters))
	copy(theta, s.Parameters)
	return m.SetParameters(theta)
}

// Clone はSnapshotのディープコピーを作成
func (s *Snapshot) Clone() *Snapshot {
	clone := &Snapshot{
		Score:      s.Score,
		Epoch:      s.Epoch,
		Parameters: make([]float64, len(s.Parameters)),
	}
	copy(clone.Parameters, s.Parameters)
	return clone
}
