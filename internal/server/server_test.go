package server_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/keypoints/internal/config"
	"github.com/born-ml/keypoints/internal/keypoint"
	"github.com/born-ml/keypoints/internal/server"
	"github.com/born-ml/keypoints/internal/tensor"
)

// fakeModel returns keypoint k of image i at (i, k).
type fakeModel struct {
	mu    sync.Mutex
	calls [][]image.Image
	err   error
}

func (m *fakeModel) Predict(_ context.Context, imgs []image.Image) ([][]keypoint.Point, error) {
	m.mu.Lock()
	m.calls = append(m.calls, imgs)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]keypoint.Point, len(imgs))
	for i := range imgs {
		out[i] = make([]keypoint.Point, keypoint.NumKeypoints)
		for k := range out[i] {
			out[i][k] = keypoint.Point{X: float32(i), Y: float32(k)}
		}
	}
	return out, nil
}

func (m *fakeModel) Info() server.ModelInfo {
	return server.ModelInfo{Architecture: keypoint.Architecture, InputSize: keypoint.InputSize, NumKeypoints: keypoint.NumKeypoints, Parameters: 42, Backend: "fake"}
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 31)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// corruptPNG has an IHDR chunk with the wrong length.
func corruptPNG(t *testing.T) []byte {
	t.Helper()
	data := encodePNG(t, 4, 4)
	binary.BigEndian.PutUint32(data[8:], 14)
	return data
}

// pngHeader is a PNG signature and IHDR declaring w×h with no pixel data.
func pngHeader(w, h uint32) []byte {
	chunk := make([]byte, 4+13)
	copy(chunk, "IHDR")
	binary.BigEndian.PutUint32(chunk[4:], w)
	binary.BigEndian.PutUint32(chunk[8:], h)
	chunk[12] = 8
	out := []byte("\x89PNG\r\n\x1a\n")
	out = binary.BigEndian.AppendUint32(out, 13)
	out = append(out, chunk...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(chunk))
}

func newServer(t *testing.T, m server.Model, mutate ...func(*config.Server)) (*server.Server, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default().Server
	for _, fn := range mutate {
		fn(&cfg)
	}
	var logs bytes.Buffer
	return server.New(m, cfg, log.New(&logs, "", 0)), &logs
}

func do(s *server.Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, logs := newServer(t, &fakeModel{})
	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	_, err := uuid.Parse(rec.Header().Get(server.RequestIDHeader))
	assert.NoError(t, err)
	assert.Contains(t, logs.String(), "GET /healthz 200")
}

func TestModelInfo(t *testing.T) {
	s, _ := newServer(t, &fakeModel{})
	rec := do(s, httptest.NewRequest(http.MethodGet, "/v1/model", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var info server.ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, keypoint.Architecture, info.Architecture)
	assert.Equal(t, 42, info.Parameters)
	assert.Equal(t, keypoint.NumKeypoints, info.NumKeypoints)
}

func TestRequestIDPropagation(t *testing.T) {
	s, _ := newServer(t, &fakeModel{})

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(server.RequestIDHeader, id)
	assert.Equal(t, id, do(s, req).Header().Get(server.RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(server.RequestIDHeader, "not-a-uuid")
	got := do(s, req).Header().Get(server.RequestIDHeader)
	assert.NotEqual(t, "not-a-uuid", got)
	_, err := uuid.Parse(got)
	assert.NoError(t, err)
}

func TestPredict(t *testing.T) {
	m := &fakeModel{}
	s, _ := newServer(t, m)

	rec := do(s, httptest.NewRequest(http.MethodPost, "/v1/keypoints", bytes.NewReader(encodePNG(t, 40, 30))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp server.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, rec.Header().Get(server.RequestIDHeader), resp.RequestID)
	assert.Equal(t, 40, resp.Width)
	assert.Equal(t, 30, resp.Height)
	require.Len(t, resp.Keypoints, keypoint.NumKeypoints)
	assert.Equal(t, keypoint.Point{X: 0, Y: 67}, resp.Keypoints[67])

	require.Len(t, m.calls, 1)
	assert.Len(t, m.calls[0], 1)
}

func TestPredict_Errors(t *testing.T) {
	tests := []struct {
		name   string
		model  *fakeModel
		body   []byte
		limit  int64
		status int
	}{
		{"not an image", &fakeModel{}, []byte("hello"), 0, http.StatusBadRequest},
		{"empty body", &fakeModel{}, nil, 0, http.StatusBadRequest},
		{"body too large", &fakeModel{}, encodePNG(t, 64, 64), 32, http.StatusRequestEntityTooLarge},
		{"corrupt png", &fakeModel{}, corruptPNG(t), 0, http.StatusBadRequest},
		{"corrupt gif", &fakeModel{}, []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00\x00"), 0, http.StatusBadRequest},
		{"truncated png", &fakeModel{}, encodePNG(t, 64, 64)[:60], 0, http.StatusBadRequest},
		{"too many pixels", &fakeModel{}, pngHeader(20000, 20000), 0, http.StatusRequestEntityTooLarge},
		{"shape mismatch", &fakeModel{err: &tensor.ShapeError{Op: "conv2d", Msg: "bad"}}, encodePNG(t, 8, 8), 0, http.StatusUnprocessableEntity},
		{"model failure", &fakeModel{err: errors.New("boom")}, encodePNG(t, 8, 8), 0, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newServer(t, tt.model, func(c *config.Server) {
				if tt.limit > 0 {
					c.MaxBodyBytes = tt.limit
				}
			})
			rec := do(s, httptest.NewRequest(http.MethodPost, "/v1/keypoints", bytes.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			var resp server.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, rec.Header().Get(server.RequestIDHeader), resp.RequestID)
		})
	}
}

func TestFailureIsLogged(t *testing.T) {
	s, logs := newServer(t, &fakeModel{err: errors.New("boom")})
	do(s, httptest.NewRequest(http.MethodPost, "/v1/keypoints", bytes.NewReader(encodePNG(t, 8, 8))))
	assert.Contains(t, logs.String(), "boom")
}

func multipartBody(t *testing.T, files map[string][]byte, order ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range order {
		fw, err := mw.CreateFormFile("image", name)
		require.NoError(t, err)
		_, err = fw.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("note", "ignored"))
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestPredictBatch(t *testing.T) {
	m := &fakeModel{}
	s, _ := newServer(t, m)

	files := map[string][]byte{"a.png": encodePNG(t, 10, 20), "b.png": encodePNG(t, 30, 5)}
	body, ct := multipartBody(t, files, "a.png", "b.png")
	req := httptest.NewRequest(http.MethodPost, "/v1/keypoints/batch", body)
	req.Header.Set("Content-Type", ct)

	rec := do(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp server.BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a.png", resp.Results[0].Name)
	assert.Equal(t, 10, resp.Results[0].Width)
	assert.Equal(t, "b.png", resp.Results[1].Name)
	assert.Equal(t, 5, resp.Results[1].Height)
	assert.Equal(t, keypoint.Point{X: 1, Y: 3}, resp.Results[1].Keypoints[3])

	require.Len(t, m.calls, 1, "one forward pass per batch")
	assert.Len(t, m.calls[0], 2)
}

func TestPredictBatch_Errors(t *testing.T) {
	data := encodePNG(t, 4, 4)

	t.Run("too many images", func(t *testing.T) {
		s, _ := newServer(t, &fakeModel{}, func(c *config.Server) { c.MaxBatch = 1 })
		body, ct := multipartBody(t, map[string][]byte{"a": data, "b": data}, "a", "b")
		req := httptest.NewRequest(http.MethodPost, "/v1/keypoints/batch", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, http.StatusRequestEntityTooLarge, do(s, req).Code)
	})

	t.Run("no images", func(t *testing.T) {
		s, _ := newServer(t, &fakeModel{})
		body, ct := multipartBody(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/v1/keypoints/batch", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, http.StatusBadRequest, do(s, req).Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		s, _ := newServer(t, &fakeModel{})
		req := httptest.NewRequest(http.MethodPost, "/v1/keypoints/batch", bytes.NewReader(data))
		assert.Equal(t, http.StatusBadRequest, do(s, req).Code)
	})

	t.Run("part over pixel limit", func(t *testing.T) {
		s, _ := newServer(t, &fakeModel{}, func(c *config.Server) { c.MaxPixels = 10 })
		body, ct := multipartBody(t, map[string][]byte{"a": data}, "a")
		req := httptest.NewRequest(http.MethodPost, "/v1/keypoints/batch", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, http.StatusRequestEntityTooLarge, do(s, req).Code)
	})

	t.Run("bad part", func(t *testing.T) {
		s, _ := newServer(t, &fakeModel{})
		body, ct := multipartBody(t, map[string][]byte{"x.png": []byte("junk")}, "x.png")
		req := httptest.NewRequest(http.MethodPost, "/v1/keypoints/batch", body)
		req.Header.Set("Content-Type", ct)
		rec := do(s, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "x.png")
	})
}

func TestRouting(t *testing.T) {
	s, _ := newServer(t, &fakeModel{})

	rec := do(s, httptest.NewRequest(http.MethodGet, "/v1/keypoints", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "/nope"))
}

func TestListenAndServe_Shutdown(t *testing.T) {
	s, _ := newServer(t, &fakeModel{}, func(c *config.Server) { c.Addr = "127.0.0.1:0" })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
