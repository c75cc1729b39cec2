// Package server exposes a keypoint Model over HTTP.
//
//	GET  /healthz              liveness
//	GET  /v1/model             architecture and calibration
//	POST /v1/keypoints         raw image body -> 68 keypoints
//	POST /v1/keypoints/batch   multipart "image" parts -> keypoints per part
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/born-ml/keypoints/internal/config"
	"github.com/born-ml/keypoints/internal/keypoint"
	"github.com/born-ml/keypoints/internal/preprocess"
	"github.com/born-ml/keypoints/internal/tensor"
)

// RequestIDHeader carries the request ID on requests and responses.
const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

// Server serves keypoint predictions.
type Server struct {
	model  Model
	cfg    config.Server
	logger *log.Logger
	router *mux.Router
}

// New creates a server for model. A nil logger discards logs.
func New(model Model, cfg config.Server, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{model: model, cfg: cfg, logger: logger}

	r := mux.NewRouter()
	r.Use(s.requestID, s.logRequests)
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/v1/model", s.info).Methods(http.MethodGet)
	r.HandleFunc("/v1/keypoints", s.predict).Methods(http.MethodPost)
	r.HandleFunc("/v1/keypoints/batch", s.predictBatch).Methods(http.MethodPost)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, http.StatusNotFound, fmt.Errorf("no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", s.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Printf("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RequestID returns the ID assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Printf("%s %s %d %s id=%s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond), RequestID(r.Context()))
	})
}

// Result is the keypoints found in one image.
type Result struct {
	Name      string           `json:"name,omitempty"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	Keypoints []keypoint.Point `json:"keypoints"`
}

// Response is the body of a successful prediction.
type Response struct {
	RequestID string `json:"request_id"`
	Result
}

// BatchResponse is the body of a successful batch prediction.
type BatchResponse struct {
	RequestID string   `json:"request_id"`
	Results   []Result `json:"results"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.model.Info())
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	img, _, err := preprocess.DecodeLimit(body, s.cfg.MaxPixels)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}

	points, err := s.model.Predict(r.Context(), []image.Image{img})
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	b := img.Bounds()
	s.respond(w, http.StatusOK, Response{
		RequestID: RequestID(r.Context()),
		Result:    Result{Width: b.Dx(), Height: b.Dy(), Keypoints: points[0]},
	})
}

func (s *Server) predictBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}

	var imgs []image.Image
	var results []Result
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail(w, r, statusFor(err), err)
			return
		}
		if part.FormName() != "image" {
			continue
		}
		if len(imgs) == s.cfg.MaxBatch {
			s.fail(w, r, http.StatusRequestEntityTooLarge, fmt.Errorf("batch exceeds %d images", s.cfg.MaxBatch))
			return
		}
		img, _, err := preprocess.DecodeLimit(part, s.cfg.MaxPixels)
		if err != nil {
			s.fail(w, r, statusFor(err), fmt.Errorf("%s: %w", part.FileName(), err))
			return
		}
		b := img.Bounds()
		imgs = append(imgs, img)
		results = append(results, Result{Name: part.FileName(), Width: b.Dx(), Height: b.Dy()})
	}
	if len(imgs) == 0 {
		s.fail(w, r, http.StatusBadRequest, errors.New(`no "image" parts in request`))
		return
	}

	points, err := s.model.Predict(r.Context(), imgs)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	for i := range results {
		results[i].Keypoints = points[i]
	}
	s.respond(w, http.StatusOK, BatchResponse{RequestID: RequestID(r.Context()), Results: results})
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, preprocess.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, preprocess.ErrDecode), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, preprocess.ErrNoImages):
		return http.StatusBadRequest
	case errors.Is(err, tensor.ErrShapeMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	id := RequestID(r.Context())
	if status >= http.StatusInternalServerError {
		s.logger.Printf("request %s: %v", id, err)
	}
	s.respond(w, status, ErrorResponse{RequestID: id, Error: err.Error()})
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("write response: %v", err)
	}
}
