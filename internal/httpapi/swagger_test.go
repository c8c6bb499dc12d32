//go:build swagger

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/swaggo/swag"
)

func TestSwaggerDoc_ListsRoutes(t *testing.T) {
	doc, err := swag.ReadDoc(swaggerInfo.InstanceName())
	if err != nil {
		t.Fatalf("read doc: %v", err)
	}
	var parsed struct {
		Paths       map[string]map[string]any `json:"paths"`
		Definitions map[string]any            `json:"definitions"`
	}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("doc is not JSON: %v", err)
	}
	want := map[string]string{
		"/sessions":                "post",
		"/sessions/{id}":           "get",
		"/sessions/{id}/output":    "get",
		"/sessions/{id}/stream":    "get",
		"/sessions/{id}/input":     "post",
		"/sessions/{id}/stop":      "post",
		"/sessions/{id}/interrupt": "post",
		"/status":                  "get",
		"/caches":                  "get",
	}
	for path, method := range want {
		if _, ok := parsed.Paths[path][method]; !ok {
			t.Errorf("missing %s %s", method, path)
		}
	}
	if _, ok := parsed.Paths["/sessions/{id}"]["delete"]; !ok {
		t.Errorf("missing delete /sessions/{id}")
	}
	for _, def := range []string{"types.StartRequest", "types.SessionInfo", "types.OutputResponse", "types.ErrorResponse"} {
		if _, ok := parsed.Definitions[def]; !ok {
			t.Errorf("missing definition %s", def)
		}
	}
}

func TestSwaggerDoc_Served(t *testing.T) {
	h := NewMux(&mockService{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !json.Valid(rr.Body.Bytes()) {
		t.Fatalf("body is not JSON: %s", rr.Body.String())
	}
}
