package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/trellis/internal/optimize"
)

func newTestEcho() *echo.Echo {
	service := NewService(ServiceConfig{
		Backend:  "cpu",
		Workers:  2,
		TileSize: 4,
		Hyper:    optimize.Hyperparams{Lengthscale: 0.5, Vertical: 1.0, Noise: 0.1},
		Adam:     optimize.DefaultAdam(),
	}, nil)
	server := NewServer(service)
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const trainBody = `{
	"x_train": [0.0, 0.125, 0.25, 0.375, 0.5, 0.625, 0.75, 0.875],
	"y_train": [0.0, 0.7, 1.0, 0.7, 0.0, -0.7, -1.0, -0.7]
}`

func withField(body, field string) string {
	return strings.TrimSuffix(strings.TrimSpace(body), "}") + ",\n" + field + "\n}"
}

func TestPredictEndpoint(t *testing.T) {
	e := newTestEcho()
	body := withField(trainBody, `"x_test": [0.1, 0.3, 0.6, 0.9]`)
	rec := doJSON(t, e, http.MethodPost, "/v1/predict", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp PredictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.ID, "pred_") {
		t.Fatalf("id %q", resp.ID)
	}
	if len(resp.Mean) != 4 {
		t.Fatalf("mean length %d", len(resp.Mean))
	}
	if resp.Variance != nil {
		t.Fatal("variance present without uncertainty flag")
	}
}

func TestPredictWithUncertaintyEndpoint(t *testing.T) {
	e := newTestEcho()
	body := withField(trainBody, `"x_test": [0.1, 0.3, 0.6, 0.9], "uncertainty": true`)
	rec := doJSON(t, e, http.MethodPost, "/v1/predict", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp PredictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Variance) != 4 {
		t.Fatalf("variance length %d", len(resp.Variance))
	}
	for i, v := range resp.Variance {
		if v < 0 {
			t.Fatalf("negative variance at %d: %g", i, v)
		}
	}
}

func TestPredictRejectsMismatchedLengths(t *testing.T) {
	e := newTestEcho()
	body := `{"x_train": [0.0, 0.5], "y_train": [1.0], "x_test": [0.25]}`
	rec := doJSON(t, e, http.MethodPost, "/v1/predict", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPredictRejectsMissingTestPoints(t *testing.T) {
	e := newTestEcho()
	rec := doJSON(t, e, http.MethodPost, "/v1/predict", trainBody)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPredictRejectsMalformedJSON(t *testing.T) {
	e := newTestEcho()
	rec := doJSON(t, e, http.MethodPost, "/v1/predict", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestTrainEndpoint(t *testing.T) {
	e := newTestEcho()
	body := withField(trainBody, `"iterations": 5`)
	rec := doJSON(t, e, http.MethodPost, "/v1/train", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp TrainResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.ID, "train_") {
		t.Fatalf("id %q", resp.ID)
	}
	if len(resp.Losses) != 5 {
		t.Fatalf("losses length %d", len(resp.Losses))
	}
	if resp.Hyper.Lengthscale <= 0 || resp.Hyper.Vertical <= 0 || resp.Hyper.Noise <= 0 {
		t.Fatalf("hyperparameters %+v", resp.Hyper)
	}
}

func TestTrainRejectsZeroIterations(t *testing.T) {
	e := newTestEcho()
	rec := doJSON(t, e, http.MethodPost, "/v1/train", trainBody)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBackendsEndpoint(t *testing.T) {
	e := newTestEcho()
	rec := doJSON(t, e, http.MethodGet, "/v1/backends", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp BackendsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Backends) == 0 || resp.Backends[0] != "cpu" {
		t.Fatalf("backends %v", resp.Backends)
	}
	if resp.Default == "" {
		t.Fatal("no default backend")
	}
}

func TestServiceHyperOverride(t *testing.T) {
	e := newTestEcho()
	body := withField(trainBody, `"x_test": [0.1, 0.3, 0.6, 0.9], "hyper": {"lengthscale": 0.3, "vertical": 2.0, "noise": 0.2}`)
	rec := doJSON(t, e, http.MethodPost, "/v1/predict", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp PredictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Hyper.Lengthscale != 0.3 || resp.Hyper.Vertical != 2.0 || resp.Hyper.Noise != 0.2 {
		t.Fatalf("hyper not applied: %+v", resp.Hyper)
	}
}
