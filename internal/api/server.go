package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/trellis/internal/backend"
)

type Server struct {
	service *Service
	clock   func() time.Time
}

func NewServer(service *Service) *Server {
	return &Server{
		service: service,
		clock:   time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/predict", s.handlePredict)
	e.POST("/v1/train", s.handleTrain)
	e.GET("/v1/backends", s.handleBackends)
}

func (s *Server) handlePredict(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "regression service not configured", "", "")
	}
	req, err := decodeJSON[PredictRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	resp, err := s.service.Predict(c.Request().Context(), &req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return writeBadRequest(c, err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	resp.ID = "pred_" + uuid.NewString()
	resp.Created = s.clock().Unix()
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTrain(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "regression service not configured", "", "")
	}
	req, err := decodeJSON[TrainRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	resp, err := s.service.Train(c.Request().Context(), &req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return writeBadRequest(c, err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	resp.ID = "train_" + uuid.NewString()
	resp.Created = s.clock().Unix()
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleBackends(c *echo.Context) error {
	names := []string{backend.CPU}
	if backend.Has(backend.CUDA) {
		names = append(names, backend.CUDA)
	}
	return c.JSON(http.StatusOK, BackendsResponse{
		Backends: names,
		Default:  backend.Available(),
	})
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
