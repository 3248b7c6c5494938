package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/erazemk/shramba/internal/auth"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/events"
	"github.com/erazemk/shramba/internal/inventory"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

const testJWTSecret = "test-secret"

type testEnv struct {
	server *httptest.Server
	hub    *events.Hub
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	return setupTestServerWith(t, nil)
}

// setupTestServerWith wraps the SQLite collection with wrap when it is non-nil.
func setupTestServerWith(t *testing.T, wrap func(inventory.Collection) inventory.Collection) *testEnv {
	t.Helper()
	database := db.NewTestDB(t)

	var coll inventory.Collection = store.NewCollection(database)
	if wrap != nil {
		coll = wrap(coll)
	}

	hub := events.NewHub()
	registry := inventory.NewRegistry(coll, inventory.WithNotifier(hub))
	bus := auth.NewBus()
	bus.Subscribe(registry.HandleIdentity)

	router := NewRouter(Deps{
		DB:        database,
		JWTSecret: testJWTSecret,
		Bus:       bus,
		Registry:  registry,
		Hub:       hub,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testEnv{server: server, hub: hub}
}

// signup creates an account and returns its token and user ID.
func (e *testEnv) signup(t *testing.T, email string) (string, string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": "password123"})
	resp, err := http.Post(e.server.URL+"/api/auth/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("signup request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup failed: %d", resp.StatusCode)
	}

	var out struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Token == "" || out.User.ID == "" {
		t.Fatal("empty token or user from signup")
	}
	return out.Token, out.User.ID
}

func authRequest(method, url, token string, body any) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends an authenticated JSON request, checks the status and decodes the
// response into out when out is non-nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body any, wantStatus int, out any) {
	t.Helper()
	req, err := authRequest(method, e.server.URL+path, token, body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		var e map[string]any
		json.NewDecoder(resp.Body).Decode(&e)
		t.Fatalf("%s %s: expected %d, got %d (%v)", method, path, wantStatus, resp.StatusCode, e)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
}

func (e *testEnv) postCSV(t *testing.T, token, text string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("POST", e.server.URL+"/api/inventory/import", strings.NewReader(text))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "text/csv")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestSignupAndLogin(t *testing.T) {
	env := setupTestServer(t)
	env.signup(t, "Ana@Example.com")

	// Same address in a different case is taken.
	body, _ := json.Marshal(map[string]string{"email": "ana@example.com", "password": "password123"})
	resp, _ := http.Post(env.server.URL+"/api/auth/signup", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate email, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for login, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	body, _ = json.Marshal(map[string]string{"email": "ana@example.com", "password": "wrong-password"})
	resp, _ = http.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	body, _ = json.Marshal(map[string]string{"email": "bob@example.com", "password": "short"})
	resp, _ = http.Post(env.server.URL+"/api/auth/signup", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for weak password, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUnauthenticatedAccess(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Get(env.server.URL + "/api/inventory")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}

	env.do(t, "GET", "/api/inventory", "garbage", nil, http.StatusUnauthorized, nil)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := setupTestServer(t)
	token, _ := env.signup(t, "ana@example.com")

	env.do(t, "GET", "/api/inventory", token, nil, http.StatusOK, nil)
	env.do(t, "POST", "/api/auth/logout", token, nil, http.StatusOK, nil)
	env.do(t, "GET", "/api/inventory", token, nil, http.StatusUnauthorized, nil)
}

func TestChangePassword(t *testing.T) {
	env := setupTestServer(t)
	token, _ := env.signup(t, "ana@example.com")

	env.do(t, "PUT", "/api/auth/password", token,
		map[string]string{"current_password": "wrong-password", "new_password": "new-password-1"},
		http.StatusUnauthorized, nil)
	env.do(t, "PUT", "/api/auth/password", token,
		map[string]string{"current_password": "password123", "new_password": "short"},
		http.StatusBadRequest, nil)
	env.do(t, "PUT", "/api/auth/password", token,
		map[string]string{"current_password": "password123", "new_password": "new-password-1"},
		http.StatusOK, nil)

	login := func(password string) int {
		body, _ := json.Marshal(map[string]string{"email": "ana@example.com", "password": password})
		resp, err := http.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if got := login("password123"); got != http.StatusUnauthorized {
		t.Errorf("old password login: expected 401, got %d", got)
	}
	if got := login("new-password-1"); got != http.StatusOK {
		t.Errorf("new password login: expected 200, got %d", got)
	}
}

func TestItemLifecycle(t *testing.T) {
	env := setupTestServer(t)
	token, _ := env.signup(t, "ana@example.com")

	var created model.Item
	env.do(t, "POST", "/api/inventory/items", token,
		map[string]any{"name": "Milk", "count": 2, "expirationDate": "2024-05-01"},
		http.StatusCreated, &created)
	if created.ID == "" {
		t.Fatal("expected assigned id")
	}

	var view inventory.View
	env.do(t, "POST", "/api/inventory/reload", token, nil, http.StatusOK, &view)
	if len(view.Items) != 1 {
		t.Fatalf("expected 1 item after reload, got %d", len(view.Items))
	}
	got := view.Items[0]
	if got.ID != created.ID || got.Name != "Milk" || got.Count != 2 || got.ExpirationDate != "2024-05-01" {
		t.Errorf("reloaded item = %+v", got)
	}

	var updated model.Item
	env.do(t, "PATCH", "/api/inventory/items/"+created.ID, token,
		map[string]any{"count": 0, "expirationDate": "15.05.2024"}, http.StatusOK, &updated)
	if updated.Count != 0 || updated.ExpirationDate != "2024-05-15" || updated.Name != "Milk" {
		t.Errorf("updated item = %+v", updated)
	}

	var summary model.Summary
	env.do(t, "GET", "/api/inventory/summary", token, nil, http.StatusOK, &summary)
	if summary.Total != 1 || summary.OutOfStock != 1 || summary.LowStock != 1 {
		t.Errorf("summary = %+v", summary)
	}

	env.do(t, "PATCH", "/api/inventory/items/"+created.ID, token,
		map[string]any{"expirationDate": "someday"}, http.StatusBadRequest, nil)
	env.do(t, "PATCH", "/api/inventory/items/missing", token,
		map[string]any{"count": 1}, http.StatusNotFound, nil)

	env.do(t, "DELETE", "/api/inventory/items/"+created.ID, token, nil, http.StatusNoContent, nil)
	env.do(t, "DELETE", "/api/inventory/items/"+created.ID, token, nil, http.StatusNotFound, nil)
}

func TestViewControls(t *testing.T) {
	env := setupTestServer(t)
	token, _ := env.signup(t, "ana@example.com")

	for _, d := range []model.Draft{
		{Name: "Rice", Count: 10},
		{Name: "Milk", Count: 0},
		{Name: "Eggs", Count: 4},
	} {
		env.do(t, "POST", "/api/inventory/items", token, d, http.StatusCreated, nil)
	}

	var view inventory.View
	env.do(t, "PUT", "/api/inventory/filter", token, map[string]string{"filter": "lowStock"}, http.StatusOK, &view)
	if len(view.Items) != 1 || view.Items[0].Name != "Eggs" {
		t.Errorf("lowStock view = %+v", view.Items)
	}

	env.do(t, "PUT", "/api/inventory/search", token, map[string]string{"text": "i"}, http.StatusOK, &view)
	if view.Filter != model.BucketAll || len(view.Items) != 2 {
		t.Errorf("search view = %+v", view)
	}

	env.do(t, "PUT", "/api/inventory/sort", token, map[string]string{"column": "count"}, http.StatusOK, &view)
	if view.Sort == nil || view.Sort.Direction != model.Ascending || view.Items[0].Name != "Milk" {
		t.Errorf("sorted view = %+v", view)
	}
	env.do(t, "PUT", "/api/inventory/sort", token, map[string]string{"column": "count"}, http.StatusOK, &view)
	if view.Sort.Direction != model.Descending || view.Items[0].Name != "Rice" {
		t.Errorf("toggled view = %+v", view)
	}

	env.do(t, "PUT", "/api/inventory/filter", token, map[string]string{"filter": "expired"}, http.StatusBadRequest, nil)
	env.do(t, "PUT", "/api/inventory/sort", token, map[string]string{"column": "price"}, http.StatusBadRequest, nil)
}

func TestDeleteAllRequiresConfirmation(t *testing.T) {
	env := setupTestServer(t)
	token, _ := env.signup(t, "ana@example.com")
	env.do(t, "POST", "/api/inventory/items", token, model.Draft{Name: "Rice"}, http.StatusCreated, nil)
	env.do(t, "POST", "/api/inventory/items", token, model.Draft{Name: "Salt"}, http.StatusCreated, nil)

	env.do(t, "DELETE", "/api/inventory/items", token, nil, http.StatusConflict, nil)

	var view inventory.View
	env.do(t, "POST", "/api/inventory/reload", token, nil, http.StatusOK, &view)
	if len(view.Items) != 2 {
		t.Fatalf("declined delete removed items: %d left", len(view.Items))
	}

	var res map[string]int
	env.do(t, "DELETE", "/api/inventory/items?confirm=yes", token, nil, http.StatusOK, &res)
	if res["deleted"] != 2 {
		t.Errorf("deleted = %d, want 2", res["deleted"])
	}
	env.do(t, "POST", "/api/inventory/reload", token, nil, http.StatusOK, &view)
	if len(view.Items) != 0 {
		t.Errorf("expected empty collection, got %d", len(view.Items))
	}
}

func TestImport(t *testing.T) {
	env := setupTestServer(t)
	token, _ := env.signup(t, "ana@example.com")

	resp := env.postCSV(t, token, "name,count,expirationDate\nApple,10,01-06-2024\nPear,1,tomorrow\n")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var res inventory.ImportResult
	json.NewDecoder(resp.Body).Decode(&res)
	resp.Body.Close()
	if res.Imported != 1 || len(res.Rejected) != 1 {
		t.Errorf("import result = %+v", res)
	}

	var view inventory.View
	env.do(t, "GET", "/api/inventory", token, nil, http.StatusOK, &view)
	if len(view.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(view.Items))
	}
	if it := view.Items[0]; it.Name != "Apple" || it.Count != 10 || it.ExpirationDate != "2024-06-01" {
		t.Errorf("imported item = %+v", it)
	}

	env.do(t, "POST", "/api/inventory/import", token,
		map[string]string{"csv": "name\nBread\n"}, http.StatusCreated, nil)

	for _, text := range []string{"   ", "name,count,expirationDate\n", "name\n\"Bread\n"} {
		resp := env.postCSV(t, token, text)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("import %q: expected 400, got %d", text, resp.StatusCode)
		}
	}

	env.do(t, "GET", "/api/inventory", token, nil, http.StatusOK, &view)
	if len(view.Items) != 2 {
		t.Errorf("rejected imports changed the collection: %d items", len(view.Items))
	}
}

// unlistableCollection fails ListAll once failList is set.
type unlistableCollection struct {
	inventory.Collection
	failList atomic.Bool
}

func (c *unlistableCollection) ListAll(ctx context.Context, userID string) ([]model.Item, error) {
	if c.failList.Load() {
		return nil, errors.New("collection offline")
	}
	return c.Collection.ListAll(ctx, userID)
}

func TestImportReportsCommittedRowsWhenReloadFails(t *testing.T) {
	var coll *unlistableCollection
	env := setupTestServerWith(t, func(inner inventory.Collection) inventory.Collection {
		coll = &unlistableCollection{Collection: inner}
		return coll
	})
	token, _ := env.signup(t, "ana@example.com")

	coll.failList.Store(true)
	resp := env.postCSV(t, token, "name,count,expirationDate\nApple,10,01-06-2024\nPear,1,tomorrow\n")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}

	var body struct {
		Error    string `json:"error"`
		Imported int    `json:"imported"`
		Rejected []struct {
			Line int `json:"line"`
		} `json:"rejected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error == "" || body.Imported != 1 || len(body.Rejected) != 1 {
		t.Errorf("body = %+v, want error with imported 1 and 1 rejected row", body)
	}

	coll.failList.Store(false)
	var view inventory.View
	env.do(t, "POST", "/api/inventory/reload", token, nil, http.StatusOK, &view)
	if len(view.Items) != 1 || view.Items[0].Name != "Apple" {
		t.Errorf("committed rows missing after reload: %+v", view.Items)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	env := setupTestServer(t)
	ana, _ := env.signup(t, "ana@example.com")
	bob, _ := env.signup(t, "bob@example.com")

	var item model.Item
	env.do(t, "POST", "/api/inventory/items", ana, model.Draft{Name: "Rice"}, http.StatusCreated, &item)

	var view inventory.View
	env.do(t, "GET", "/api/inventory", bob, nil, http.StatusOK, &view)
	if len(view.Items) != 0 {
		t.Errorf("bob sees ana's items: %+v", view.Items)
	}
	env.do(t, "DELETE", "/api/inventory/items/"+item.ID, bob, nil, http.StatusNotFound, nil)
}

func TestIdentifyWithoutClassifier(t *testing.T) {
	env := setupTestServer(t)
	token, _ := env.signup(t, "ana@example.com")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("image", "capture.jpg")
	part.Write([]byte("\xff\xd8\xff\xe0 not really a jpeg"))
	mw.Close()

	req, _ := http.NewRequest("POST", env.server.URL+"/api/inventory/identify", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out identifyResponse
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Found || out.Name != "" {
		t.Errorf("expected no suggestion, got %+v", out)
	}
}

func TestEventsStream(t *testing.T) {
	env := setupTestServer(t)
	token, userID := env.signup(t, "ana@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/events?token=" + token
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	for env.hub.ClientCount(userID) == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("client never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	env.do(t, "POST", "/api/inventory/items", token, model.Draft{Name: "Jam", Count: 1}, http.StatusCreated, nil)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev model.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != model.EventItemCreated || ev.Item == nil || ev.Item.Name != "Jam" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{inventory.ErrEmptyInput, http.StatusBadRequest},
		{inventory.ErrNoValidRecords, http.StatusBadRequest},
		{model.ErrInvalidDate, http.StatusBadRequest},
		{inventory.ErrItemNotFound, http.StatusNotFound},
		{inventory.ErrConfirmationDeclined, http.StatusConflict},
		{inventory.ErrRemoteUnavailable, http.StatusServiceUnavailable},
		{inventory.ErrRemoteWriteFailed, http.StatusBadGateway},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
