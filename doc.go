// Package fgel estimates the parameters of conditional moment restrictions
//
//	E[ψ(X; θ₀) | Z] = 0
//
// from samples of the data X and the instruments Z.
//
// Three estimators share one interface (core/model.Estimator):
//
//   - estimator.LeastSquares minimizes the unweighted squared moment and is
//     the baseline.
//   - estimator.KernelVMM is the iteratively reweighted kernel GMM estimator.
//     It raises its regularization α when a fit turns out singular or
//     non-finite.
//   - estimator.NeuralVMM trains θ against an MLP dual function of Z by
//     alternating Adam steps with early stopping on validation MMR.
//
// Every estimator borrows a model.Model, trains it exactly once and scores
// it with the kernel moment-matching risk (MMR) on a validation split.
//
// # Quick Start
//
//	m := linear.NewMomentModel(1, 1) // ψ = y − t·θ
//	est := estimator.NewKernelVMM(m, estimator.WithAlpha(1e-6))
//	if err := est.Train(x, z, xVal, zVal); err != nil {
//	    log.Fatal(err)
//	}
//	theta, _ := est.TrainedParameters()
//	mmr, _ := est.CalcValMMR(xVal, zVal)
//
// # Packages
//
//   - kernel: RBF Gram matrices and robust Cholesky factors
//   - estimator: the three estimators and their options
//   - linear: the linear moment model used in examples and tests
//   - metrics: MMR and moment objectives
//   - nn: MLP and Adam used by Neural-VMM
//   - preprocessing: StandardScaler for the dual network input
//   - experiment: hyperparameter selection and repeated runs
//   - core/model: Model and Estimator interfaces, training state
//   - core/parallel: row-parallel helpers
//   - pkg/errors, pkg/log: error types and structured logging
package fgel
