package linear

// Option is a function that configures MomentModel
type Option func(*MomentModel)

// WithIntercept adds an intercept b to the moment y − t·β − b
func WithIntercept(fit bool) Option {
	return func(m *MomentModel) {
		m.intercept = fit
	}
}

// WithInitialParameters sets the starting θ. It is ignored when its length
// does not match the number of parameters.
func WithInitialParameters(theta []float64) Option {
	return func(m *MomentModel) {
		m.theta = append([]float64(nil), theta...)
	}
}
