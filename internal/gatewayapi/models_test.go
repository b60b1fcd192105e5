package gatewayapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexusgate/gateway/internal/router"
)

type fakeLister struct{ aliases []router.Alias }

func (f *fakeLister) List() []router.Alias { return f.aliases }

func TestModelsHandler_ListsAliasesWithAgentFlag(t *testing.T) {
	lister := &fakeLister{aliases: []router.Alias{
		{Name: "fast", IsAgent: false},
		{Name: "planner", IsAgent: true},
	}}
	h := NewModelsHandler(lister)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ModelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 || resp.Data[0].ID != "fast" || resp.Data[1].IsAgent != true {
		t.Fatalf("unexpected models response: %+v", resp.Data)
	}
}
