package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shghadge/collaborative-edge-mesh/internal/chainlog"
	"github.com/shghadge/collaborative-edge-mesh/internal/httpapi"
	"github.com/shghadge/collaborative-edge-mesh/internal/meshstate"
)

func newTestRouter() http.Handler {
	return httpapi.NewRouter(&httpapi.Node{
		NodeID: "node-1",
		State:  meshstate.New("node-1"),
		Chain:  chainlog.New(),
	})
}

func TestRouter_HealthReturnsOK(t *testing.T) {
	router := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
}

func TestRouter_PostEventThenGetState(t *testing.T) {
	router := newTestRouter()

	body, _ := json.Marshal(meshstate.Event{
		ID:       "evt-1",
		Type:     "temperature",
		Category: meshstate.CategorySensor,
		Location: "zone-a",
		Value:    21.5,
	})
	req := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("post /event status: got %d, want 202, body=%s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/state", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get /state status: got %d, want 200", rec.Code)
	}

	var wire meshstate.Wire
	if err := json.Unmarshal(rec.Body.Bytes(), &wire); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if wire.Version != 1 {
		t.Errorf("version: got %d, want 1", wire.Version)
	}
}

func TestRouter_PostEventRejectsInvalidJSON(t *testing.T) {
	router := newTestRouter()
	req := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestRouter_GetMerkleReturnsRootAndNodeID(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/state/merkle", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["merkle_root"] == "" {
		t.Errorf("expected a non-empty merkle root")
	}
	if resp["node_id"] != "node-1" {
		t.Errorf("expected node_id in merkle response, got %+v", resp)
	}
}

func TestRouter_PostEventReturnsLogSequenceAndCategory(t *testing.T) {
	router := newTestRouter()

	body, _ := json.Marshal(meshstate.Event{
		ID: "evt-1", Type: "temperature", Category: meshstate.CategorySensor,
		Location: "zone-a", Value: 21.5,
	})
	req := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "recorded" {
		t.Errorf("expected status=recorded, got %+v", resp)
	}
	if resp["category"] != meshstate.CategorySensor {
		t.Errorf("expected category echoed back, got %+v", resp)
	}
	if _, ok := resp["log_sequence"]; !ok {
		t.Errorf("expected log_sequence in response, got %+v", resp)
	}
}

func TestRouter_PostMergeAppliesIncomingState(t *testing.T) {
	router := newTestRouter()

	other := meshstate.New("node-2")
	other.RecordEvent(meshstate.Event{
		ID: "evt-1", Type: "temperature", Category: meshstate.CategorySensor,
		Location: "zone-a", Value: 21.5,
	})
	wire := other.Serialize()
	body, _ := json.Marshal(wire)

	req := httptest.NewRequest(http.MethodPost, "/merge", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("post /merge status: got %d, want 200", rec.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if merged, _ := resp["merged"].(bool); !merged {
		t.Errorf("expected merged=true, got %+v", resp)
	}
	if resp["status"] != "merged" {
		t.Errorf("expected status=merged, got %+v", resp)
	}
	if _, ok := resp["version"]; !ok {
		t.Errorf("expected version in merge response, got %+v", resp)
	}
}

func TestRouter_GetLogReturnsEntries(t *testing.T) {
	router := newTestRouter()

	body, _ := json.Marshal(meshstate.Event{ID: "evt-1", Type: "temperature", Category: meshstate.CategorySensor, Location: "zone-a", Value: 1.0})
	req := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(body))
	router.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/log", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	entries, ok := resp["entries"].([]interface{})
	if !ok || len(entries) != 1 {
		t.Errorf("expected one log entry, got %+v", resp["entries"])
	}
	if verified, _ := resp["verified"].(bool); !verified {
		t.Errorf("expected chain to verify")
	}
}
