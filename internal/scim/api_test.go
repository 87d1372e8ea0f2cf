package scim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/provgate/internal/store"
	"github.com/dhawalhost/provgate/internal/store/memory"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	users := memory.New("User", memory.WithUniqueAttr("userName"))
	groups := memory.New("Group",
		memory.WithUniqueAttr("displayName"), memory.WithNestedStore("members"))
	router := gin.New()
	h := NewHTTPHandler(users, groups, zap.NewNop())
	h.RegisterRoutes(router.Group("/scim"))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: invalid response body %q", method, path, w.Body.String())
		}
	}
	return w, decoded
}

func createUser(t *testing.T, router *gin.Engine, userName string) string {
	t.Helper()
	w, body := doJSON(t, router, "POST", "/scim/Users", map[string]any{"userName": userName})
	if w.Code != http.StatusCreated {
		t.Fatalf("create user %s: status %d, body %v", userName, w.Code, body)
	}
	return body["id"].(string)
}

func createGroup(t *testing.T, router *gin.Engine, displayName string, memberIDs ...string) string {
	t.Helper()
	members := make([]any, 0, len(memberIDs))
	for _, id := range memberIDs {
		members = append(members, map[string]any{"value": id})
	}
	w, body := doJSON(t, router, "POST", "/scim/Groups", map[string]any{
		"displayName": displayName,
		"members":     members,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create group %s: status %d, body %v", displayName, w.Code, body)
	}
	return body["id"].(string)
}

func TestUserLifecycle(t *testing.T) {
	router := newTestRouter()

	w, body := doJSON(t, router, "POST", "/scim/Users", map[string]any{
		"userName": "bjensen",
		"password": "secret",
		"emails":   []any{map[string]any{"value": "bjensen@example.com"}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %v", w.Code, body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/scim+json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if _, ok := body["password"]; ok {
		t.Error("password must not appear in the response")
	}
	id := body["id"].(string)

	w, body = doJSON(t, router, "GET", "/scim/Users/"+id, nil)
	if w.Code != http.StatusOK || body["userName"] != "bjensen" {
		t.Fatalf("get: status %d, body %v", w.Code, body)
	}

	w, body = doJSON(t, router, "PUT", "/scim/Users/"+id, map[string]any{"active": false})
	if w.Code != http.StatusOK {
		t.Fatalf("put: status %d, body %v", w.Code, body)
	}
	if body["active"] != false || body["userName"] != "bjensen" {
		t.Errorf("put result: %v", body)
	}

	w, _ = doJSON(t, router, "DELETE", "/scim/Users/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status %d", w.Code)
	}
	w, body = doJSON(t, router, "GET", "/scim/Users/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", w.Code)
	}
	if body["status"] != float64(http.StatusNotFound) {
		t.Errorf("error envelope status = %v", body["status"])
	}
}

func TestCreateUserValidation(t *testing.T) {
	router := newTestRouter()

	w, body := doJSON(t, router, "POST", "/scim/Users", map[string]any{"displayName": "no username"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	schemas, _ := body["schemas"].([]any)
	if len(schemas) != 1 || schemas[0] != ErrorSchema {
		t.Errorf("error schemas = %v", body["schemas"])
	}

	createUser(t, router, "bjensen")
	w, _ = doJSON(t, router, "POST", "/scim/Users", map[string]any{"userName": "BJENSEN"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate userName: status = %d, want 409", w.Code)
	}
}

func TestListUsers(t *testing.T) {
	router := newTestRouter()
	for i := 0; i < 5; i++ {
		createUser(t, router, fmt.Sprintf("user%d", i))
	}

	w, body := doJSON(t, router, "GET", "/scim/Users", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["totalResults"] != float64(5) || body["startIndex"] != float64(1) {
		t.Errorf("envelope = %v", body)
	}
	schemas, _ := body["schemas"].([]any)
	if len(schemas) != 1 || schemas[0] != ListSchema {
		t.Errorf("schemas = %v", body["schemas"])
	}

	w, body = doJSON(t, router, "GET", "/scim/Users?startIndex=4&count=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resources, _ := body["Resources"].([]any)
	if body["totalResults"] != float64(5) || len(resources) != 2 {
		t.Errorf("page: total %v, %d resources", body["totalResults"], len(resources))
	}

	// count=0 returns the total with no resources.
	w, body = doJSON(t, router, "GET", "/scim/Users?count=0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("count=0: status = %d", w.Code)
	}
	resources, _ = body["Resources"].([]any)
	if body["totalResults"] != float64(5) || body["itemsPerPage"] != float64(0) || len(resources) != 0 {
		t.Errorf("count=0: total %v, itemsPerPage %v, %d resources",
			body["totalResults"], body["itemsPerPage"], len(resources))
	}

	w, body = doJSON(t, router, "GET", `/scim/Users?filter=userName+eq+%22user3%22`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("filtered list: status %d, body %v", w.Code, body)
	}
	if body["totalResults"] != float64(1) {
		t.Errorf("filtered total = %v", body["totalResults"])
	}

	w, body = doJSON(t, router, "GET", `/scim/Users?filter=userName+zz+%22x%22`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed filter: status %d, body %v", w.Code, body)
	}
}

func TestGroupLifecycle(t *testing.T) {
	router := newTestRouter()
	u1 := createUser(t, router, "alice")
	u2 := createUser(t, router, "bob")

	gid := createGroup(t, router, "Engineering", u1)

	w, body := doJSON(t, router, "GET", "/scim/Groups/"+gid, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d", w.Code)
	}
	members, _ := body["members"].([]any)
	if len(members) != 1 {
		t.Fatalf("members = %v", body["members"])
	}

	// PatchOp: add the second user.
	w, body = doJSON(t, router, "PATCH", "/scim/Groups/"+gid, map[string]any{
		"schemas": []string{PatchSchema},
		"Operations": []any{
			map[string]any{"op": "add", "path": "members", "value": []any{
				map[string]any{"value": u2},
			}},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("patch add: status %d, body %v", w.Code, body)
	}
	if members, _ := body["members"].([]any); len(members) != 2 {
		t.Errorf("after add: members = %v", body["members"])
	}

	// PatchOp: remove by sub-filter.
	w, body = doJSON(t, router, "PATCH", "/scim/Groups/"+gid, map[string]any{
		"schemas": []string{PatchSchema},
		"Operations": []any{
			map[string]any{"op": "remove", "path": fmt.Sprintf("members[value eq %q]", u1)},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("patch remove: status %d, body %v", w.Code, body)
	}
	members, _ = body["members"].([]any)
	if len(members) != 1 || members[0].(map[string]any)["value"] != u2 {
		t.Errorf("after remove: members = %v", body["members"])
	}

	// PatchOp: metadata replace.
	w, body = doJSON(t, router, "PATCH", "/scim/Groups/"+gid, map[string]any{
		"schemas": []string{PatchSchema},
		"Operations": []any{
			map[string]any{"op": "replace", "value": map[string]any{"displayName": "Platform"}},
		},
	})
	if w.Code != http.StatusOK || body["displayName"] != "Platform" {
		t.Fatalf("patch replace: status %d, body %v", w.Code, body)
	}

	w, _ = doJSON(t, router, "DELETE", "/scim/Groups/"+gid, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status %d", w.Code)
	}
	w, _ = doJSON(t, router, "GET", "/scim/Groups/"+gid, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", w.Code)
	}
}

func TestGroupFilterByMember(t *testing.T) {
	router := newTestRouter()
	u1 := createUser(t, router, "alice")
	createGroup(t, router, "WithAlice", u1)
	createGroup(t, router, "Empty")

	path := fmt.Sprintf(`/scim/Groups?filter=members[value+eq+%%22%s%%22]`, u1)
	w, body := doJSON(t, router, "GET", path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %v", w.Code, body)
	}
	if body["totalResults"] != float64(1) {
		t.Errorf("totalResults = %v", body["totalResults"])
	}
	resources, _ := body["Resources"].([]any)
	if len(resources) != 1 || resources[0].(map[string]any)["displayName"] != "WithAlice" {
		t.Errorf("Resources = %v", resources)
	}
}

func TestPatchUserAttributes(t *testing.T) {
	router := newTestRouter()
	id := createUser(t, router, "bjensen")

	// PatchOp form.
	w, body := doJSON(t, router, "PATCH", "/scim/Users/"+id, map[string]any{
		"schemas": []string{PatchSchema},
		"Operations": []any{
			map[string]any{"op": "replace", "value": map[string]any{"active": false}},
		},
	})
	if w.Code != http.StatusOK || body["active"] != false {
		t.Fatalf("patchop: status %d, body %v", w.Code, body)
	}

	// Bare attribute form.
	w, body = doJSON(t, router, "PATCH", "/scim/Users/"+id, map[string]any{"locale": "sv-SE"})
	if w.Code != http.StatusOK || body["locale"] != "sv-SE" {
		t.Fatalf("bare patch: status %d, body %v", w.Code, body)
	}
}

func TestPatchUnknownGroup(t *testing.T) {
	router := newTestRouter()
	w, _ := doJSON(t, router, "PATCH", "/scim/Groups/missing", map[string]any{
		"schemas": []string{PatchSchema},
		"Operations": []any{
			map[string]any{"op": "add", "path": "members", "value": []any{
				map[string]any{"value": "u1"},
			}},
		},
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSanitizeNeverLeaksPassword(t *testing.T) {
	resource := store.Resource{"userName": "x", "password": "secret"}
	clean := store.Sanitize(resource)
	if _, ok := clean["password"]; ok {
		t.Error("Sanitize kept password")
	}
	if _, ok := resource["password"]; !ok {
		t.Error("Sanitize must not mutate its input")
	}
}
