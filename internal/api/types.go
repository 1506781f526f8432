package api

// HyperDTO carries covariance hyperparameters over the wire.
type HyperDTO struct {
	Lengthscale float64 `json:"lengthscale"`
	Vertical    float64 `json:"vertical"`
	Noise       float64 `json:"noise"`
}

// PredictRequest asks for the posterior at XTest given the training set.
// Iterations > 0 refines the hyperparameters before predicting.
type PredictRequest struct {
	XTrain      []float64 `json:"x_train"`
	YTrain      []float64 `json:"y_train"`
	XTest       []float64 `json:"x_test"`
	TileSize    int       `json:"tile_size,omitempty"`
	Iterations  int       `json:"iterations,omitempty"`
	Uncertainty bool      `json:"uncertainty,omitempty"`
	Hyper       *HyperDTO `json:"hyper,omitempty"`
}

// PredictResponse is the posterior mean, plus the per-point variance when
// requested, under the hyperparameters actually used.
type PredictResponse struct {
	ID       string    `json:"id"`
	Created  int64     `json:"created"`
	Mean     []float64 `json:"mean"`
	Variance []float64 `json:"variance,omitempty"`
	Hyper    HyperDTO  `json:"hyper"`
}

// TrainRequest runs hyperparameter optimization on the given training set.
type TrainRequest struct {
	XTrain     []float64 `json:"x_train"`
	YTrain     []float64 `json:"y_train"`
	TileSize   int       `json:"tile_size,omitempty"`
	Iterations int       `json:"iterations"`
	Hyper      *HyperDTO `json:"hyper,omitempty"`
}

// TrainResponse reports the refined hyperparameters and the loss trace, one
// entry per iteration.
type TrainResponse struct {
	ID      string    `json:"id"`
	Created int64     `json:"created"`
	Hyper   HyperDTO  `json:"hyper"`
	Losses  []float64 `json:"losses"`
}

// BackendsResponse lists the compiled-in compute backends.
type BackendsResponse struct {
	Backends []string `json:"backends"`
	Default  string   `json:"default"`
}

// ResponseError is the error payload envelope.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
