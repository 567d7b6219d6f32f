package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/RuleNotify/internal/engine"
	"github.com/BTreeMap/RuleNotify/internal/models"
	"github.com/BTreeMap/RuleNotify/internal/testutil"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	eng := engine.NewEngine(testutil.NewRecordStore(t, testutil.SampleDataset()),
		engine.WithClock(engine.FixedClock{T: testutil.AsOf}))
	return NewServer(eng)
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)
	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/healthz", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthz")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, ok := resp["result"].(map[string]interface{})
	if !ok || result["service"] != "rulenotify" || result["dataset_version"] == "" {
		t.Errorf("unexpected health result: %v", resp["result"])
	}
}

func TestParseHandler(t *testing.T) {
	s := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/parse",
		models.RuleRequest{Rule: "1. If high risk and intake is incomplete then send SMS and email"})
	rr := serve(s, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "parse")

	var resp struct {
		Status string                `json:"status"`
		Result models.StructuredRule `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if resp.Result.ID != "rule_1" {
		t.Errorf("expected numbered rule id, got %q", resp.Result.ID)
	}
	if len(resp.Result.Conditions) < 2 || len(resp.Result.Actions) != 2 {
		t.Errorf("unexpected parsed rule: %+v", resp.Result)
	}
}

func TestParseHandlerUnparseable(t *testing.T) {
	s := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/parse",
		models.RuleRequest{Rule: "send everyone a postcard"})
	rr := serve(s, req)
	testutil.AssertHTTPStatus(t, http.StatusUnprocessableEntity, rr.Code, "unparseable rule")
	resp := testutil.AssertJSONResponse(t, rr, "error")
	if msg, _ := resp["message"].(string); msg == "" {
		t.Error("expected an error message")
	}
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"invalid json", "/api/evaluate", `{"rule":`, http.StatusBadRequest},
		{"unknown field", "/api/parse", `{"rule":"if high risk then call","extra":1}`, http.StatusBadRequest},
		{"empty rule", "/api/evaluate", `{"rule":""}`, http.StatusBadRequest},
		{"negative limit", "/api/evaluate", `{"rule":"if high risk then call","limit":-3}`, http.StatusBadRequest},
		{"too long", "/api/parse", `{"rule":"` + strings.Repeat("a", models.MaxRuleTextLength+1) + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := serve(s, req)
			testutil.AssertHTTPStatus(t, tt.want, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, "error")
		})
	}
}

func TestEvaluateHandler(t *testing.T) {
	s := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/evaluate",
		models.RuleRequest{Rule: "If high risk then call patient", Limit: 5})
	rr := serve(s, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "evaluate")

	var resp struct {
		Status string                `json:"status"`
		Result models.EvaluateResult `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if resp.Result.RunID == "" {
		t.Error("expected a run id")
	}
	if resp.Result.AsOf != "2025-09-10T12:00:00Z" {
		t.Errorf("unexpected as_of %q", resp.Result.AsOf)
	}
	var found bool
	for _, m := range resp.Result.Matches {
		if m.AppointmentID == testutil.ApptHighRisk {
			found = true
			if len(m.Actions) != 1 || m.Actions[0].Channel != models.ChannelCall {
				t.Errorf("expected one CALL payload, got %+v", m.Actions)
			}
		}
		if m.AppointmentID == testutil.ApptDoNotContact && (!m.Suppressed || len(m.Actions) != 0) {
			t.Errorf("do-not-contact match must be suppressed: %+v", m)
		}
	}
	if !found {
		t.Errorf("expected %s among matches: %+v", testutil.ApptHighRisk, resp.Result.Matches)
	}
}

func TestEvaluateHandlerUnparseable(t *testing.T) {
	s := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/evaluate",
		models.RuleRequest{Rule: "if high risk then do something nice"})
	rr := serve(s, req)
	testutil.AssertHTTPStatus(t, http.StatusUnprocessableEntity, rr.Code, "evaluate without channel")
	resp := testutil.AssertJSONResponse(t, rr, "error")
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected result body alongside the error, got %v", resp)
	}
	if matches, _ := result["matches"].([]interface{}); len(matches) != 0 {
		t.Errorf("expected empty matches, got %v", result["matches"])
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	s := newTestServer(t)
	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/api/nope", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown route")
	if resp := testutil.AssertJSONResponse(t, rr, "error"); resp["message"] != "Not found" {
		t.Errorf("unexpected 404 body: %v", resp)
	}

	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/api/evaluate", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "GET evaluate")
	if resp := testutil.AssertJSONResponse(t, rr, "error"); resp["message"] != "Method not allowed" {
		t.Errorf("unexpected 405 body: %v", resp)
	}
}

func TestWriteCannedUnknownStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	writeCanned(rr, http.StatusTeapot)
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "unknown canned status")
	if resp := testutil.AssertJSONResponse(t, rr, "error"); resp["message"] != "Internal server error" {
		t.Errorf("unexpected fallback body: %v", resp)
	}
}

func TestWriteJSONResponseEncodingFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, models.Success(make(chan int)))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "unencodable response")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestCORSPreflight(t *testing.T) {
	s := NewServer(engine.NewEngine(testutil.NewRecordStore(t, testutil.SampleDataset())),
		WithAllowedOrigins("https://ops.example"))
	req, _ := http.NewRequest(http.MethodOptions, "/api/evaluate", nil)
	req.Header.Set("Origin", "https://ops.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := serve(s, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example" {
		t.Errorf("expected allowed origin header, got %q", got)
	}
}

func TestNewServerDefaults(t *testing.T) {
	s := NewServer(engine.NewEngine(testutil.NewRecordStore(t, testutil.SampleDataset())), WithAddr(""))
	if s.opts.Addr != DefaultAddr {
		t.Errorf("expected default addr, got %q", s.opts.Addr)
	}
	if s.opts.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("expected default timeout, got %v", s.opts.RequestTimeout)
	}
}
