package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/medscan/internal/analysis"
	"github.com/example/medscan/internal/auth"
	"github.com/example/medscan/internal/capture"
	"github.com/example/medscan/internal/fault"
	"github.com/example/medscan/internal/session"
	"github.com/example/medscan/internal/telemetry"
)

const testJWTSecret = "test-secret"

type stubOpener struct{}

func (stubOpener) OpenDevice() (capture.Device, error) {
	return nil, fault.New(fault.DeviceUnavailable, "no camera in tests")
}

type stubAnalyzer struct {
	report *analysis.Report
	err    error
}

func (s *stubAnalyzer) Analyze(ctx context.Context, image *capture.EncodedImage) (*analysis.Report, error) {
	return s.report, s.err
}

type stubMetrics struct {
	summary *telemetry.MetricsSummary
	err     error
}

func (s *stubMetrics) GetMetricsSummary(ctx context.Context) (*telemetry.MetricsSummary, error) {
	return s.summary, s.err
}

func newTestRouter(t *testing.T, analyzer analysis.Analyzer) (*gin.Engine, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	source := capture.NewSource(0, 85, capture.CameraConfig{}, logger)
	mgr := session.NewManager(stubOpener{}, analyzer, nil, nil, time.Second, time.Hour, logger)

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, mgr, source,
		&stubMetrics{summary: &telemetry.MetricsSummary{TotalAnalyses: 7}},
		auth.JWTMiddleware(testJWTSecret, ""))
	return router, mgr
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func buildMultipartBody(t *testing.T, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "scan.png")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func pngPayload(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

func doRequest(router *gin.Engine, method, path, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeView(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", resp.Body.String(), err)
	}
	return body
}

func createSession(t *testing.T, router *gin.Engine, token string) string {
	t.Helper()
	resp := doRequest(router, http.MethodPost, "/v1/sessions", token, nil, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	body := decodeView(t, resp)
	id, _ := body["session_id"].(string)
	if id == "" {
		t.Fatalf("expected a session id, got %v", body)
	}
	return id
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	router, _ := newTestRouter(t, &stubAnalyzer{})

	resp := doRequest(router, http.MethodPost, "/v1/sessions", "", nil, "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestCreateSessionStartsIdle(t *testing.T) {
	router, _ := newTestRouter(t, &stubAnalyzer{})
	token := buildTestToken(t, "user-123")

	id := createSession(t, router, token)

	resp := doRequest(router, http.MethodGet, "/v1/sessions/"+id, token, nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := decodeView(t, resp)
	if body["state"] != string(session.StateIdle) {
		t.Fatalf("expected idle, got %v", body["state"])
	}
	if body["has_image"] != false {
		t.Fatalf("expected no image, got %v", body["has_image"])
	}
}

func TestSessionsAreScopedToTheirOwner(t *testing.T) {
	router, _ := newTestRouter(t, &stubAnalyzer{})
	id := createSession(t, router, buildTestToken(t, "user-123"))

	resp := doRequest(router, http.MethodGet, "/v1/sessions/"+id, buildTestToken(t, "intruder"), nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign session, got %d", resp.Code)
	}
}

func TestUploadEmptyFileNeverEntersAnalyzing(t *testing.T) {
	router, _ := newTestRouter(t, &stubAnalyzer{})
	token := buildTestToken(t, "user-123")
	id := createSession(t, router, token)

	body, contentType := buildMultipartBody(t, nil)
	resp := doRequest(router, http.MethodPost, "/v1/sessions/"+id+"/upload", token, body, contentType)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.Code, resp.Body.String())
	}
	if kind := decodeView(t, resp)["error_kind"]; kind != string(fault.InvalidInput) {
		t.Fatalf("expected invalid_input, got %v", kind)
	}

	resp = doRequest(router, http.MethodGet, "/v1/sessions/"+id, token, nil, "")
	if state := decodeView(t, resp)["state"]; state != string(session.StateIdle) {
		t.Fatalf("expected session to stay idle, got %v", state)
	}
}

func TestUploadFlowReachesResult(t *testing.T) {
	report := &analysis.Report{
		ImagingType:         "X-Ray, hand",
		OrganName:           "Left hand",
		Findings:            "No acute fracture.",
		ProfessionalDetails: []string{"Mild soft tissue swelling", "No dislocation"},
	}
	router, _ := newTestRouter(t, &stubAnalyzer{report: report})
	token := buildTestToken(t, "user-123")
	id := createSession(t, router, token)

	body, contentType := buildMultipartBody(t, pngPayload(t))
	resp := doRequest(router, http.MethodPost, "/v1/sessions/"+id+"/upload", token, body, contentType)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	view := waitForSessionState(t, router, token, id, string(session.StateResult))
	result, ok := view["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected result payload, got %v", view)
	}
	if result["organName"] != "Left hand" {
		t.Fatalf("unexpected result: %v", result)
	}

	// Preview must serve the normalized JPEG.
	resp = doRequest(router, http.MethodGet, "/v1/sessions/"+id+"/image", token, nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 preview, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != capture.MIMEJPEG {
		t.Fatalf("expected %q, got %q", capture.MIMEJPEG, ct)
	}
}

func TestNoOpEventReturnsUnchangedView(t *testing.T) {
	router, _ := newTestRouter(t, &stubAnalyzer{})
	token := buildTestToken(t, "user-123")
	id := createSession(t, router, token)

	// Cancel is undefined while idle; the view comes back unchanged.
	resp := doRequest(router, http.MethodPost, "/v1/sessions/"+id+"/cancel", token, nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if state := decodeView(t, resp)["state"]; state != string(session.StateIdle) {
		t.Fatalf("expected idle preserved, got %v", state)
	}
}

func TestExportRequiresResultState(t *testing.T) {
	router, _ := newTestRouter(t, &stubAnalyzer{})
	token := buildTestToken(t, "user-123")
	id := createSession(t, router, token)

	resp := doRequest(router, http.MethodGet, "/v1/sessions/"+id+"/export", token, nil, "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 without a result, got %d", resp.Code)
	}
}

func TestExportRendersReport(t *testing.T) {
	report := &analysis.Report{
		ImagingType:         "X-Ray, hand",
		OrganName:           "Left hand",
		Findings:            "No acute fracture.",
		ProfessionalDetails: []string{"Mild soft tissue swelling"},
	}
	router, _ := newTestRouter(t, &stubAnalyzer{report: report})
	token := buildTestToken(t, "user-123")
	id := createSession(t, router, token)

	body, contentType := buildMultipartBody(t, pngPayload(t))
	doRequest(router, http.MethodPost, "/v1/sessions/"+id+"/upload", token, body, contentType)
	waitForSessionState(t, router, token, id, string(session.StateResult))

	resp := doRequest(router, http.MethodGet, "/v1/sessions/"+id+"/export", token, nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	page := resp.Body.String()
	for _, want := range []string{"X-Ray, hand", "Left hand", "No acute fracture.", "Mild soft tissue swelling"} {
		if !strings.Contains(page, want) {
			t.Fatalf("export missing %q in: %s", want, page)
		}
	}
}

func TestCameraUnavailableReportsFailedSession(t *testing.T) {
	router, _ := newTestRouter(t, &stubAnalyzer{})
	token := buildTestToken(t, "user-123")
	id := createSession(t, router, token)

	resp := doRequest(router, http.MethodPost, "/v1/sessions/"+id+"/camera", token, nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := decodeView(t, resp)
	if body["state"] != string(session.StateFailed) {
		t.Fatalf("expected failed, got %v", body["state"])
	}
	if body["error_kind"] != string(fault.DeviceUnavailable) {
		t.Fatalf("expected device_unavailable, got %v", body["error_kind"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, &stubAnalyzer{})
	token := buildTestToken(t, "user-123")

	resp := doRequest(router, http.MethodGet, "/v1/metrics", token, nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var summary telemetry.MetricsSummary
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.TotalAnalyses != 7 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func waitForSessionState(t *testing.T, router *gin.Engine, token, id, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp := doRequest(router, http.MethodGet, "/v1/sessions/"+id, token, nil, "")
		body := decodeView(t, resp)
		if body["state"] == want {
			return body
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached state %q", id, want)
	return nil
}
