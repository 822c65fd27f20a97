package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pagecraft/pagecraft/backend/internal/auth"
	"github.com/pagecraft/pagecraft/backend/internal/blocks"
	"github.com/pagecraft/pagecraft/backend/internal/notes"
	"github.com/pagecraft/pagecraft/backend/internal/realtime"
	"github.com/pagecraft/pagecraft/backend/internal/users"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:router_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &notes.Note{}, &blocks.Block{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	ids := blocks.NewUUIDProvider()
	usersService, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: ids})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	store, err := blocks.NewStore(blocks.StoreConfig{Database: db, IDProvider: ids})
	if err != nil {
		t.Fatalf("failed to construct block store: %v", err)
	}
	notesService, err := notes.NewService(notes.ServiceConfig{Database: db, IDProvider: ids, BlockStore: store})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}
	hub, err := realtime.NewHub(realtime.HubConfig{Store: store, Access: notesService})
	if err != nil {
		t.Fatalf("failed to construct hub: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenIssuer:  auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte("router-test-secret")}),
		UsersService: usersService,
		NotesService: notesService,
		Hub:          hub,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func registerUser(t *testing.T, handler http.Handler, username string) (string, string) {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"password":"correct horse battery"}`, username)
	recorder := doJSON(t, handler, http.MethodPost, "/auth/register", "", body)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var session sessionPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if session.AccessToken == "" || session.User.ID == "" {
		t.Fatalf("incomplete session payload: %+v", session)
	}
	return session.AccessToken, session.User.ID
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	handler := newTestHandler(t)
	registerUser(t, handler, "ada")

	recorder := doJSON(t, handler, http.MethodPost, "/auth/login", "", `{"username":"ada","password":"correct horse battery"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodPost, "/auth/login", "", `{"username":"ada","password":"wrong"}`)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password returned %d, want 401", recorder.Code)
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	handler := newTestHandler(t)
	registerUser(t, handler, "ada")

	recorder := doJSON(t, handler, http.MethodPost, "/auth/register", "", `{"username":"ada","password":"correct horse battery"}`)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("duplicate register returned %d, want 409", recorder.Code)
	}
}

func TestNotesRequireAuthorization(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodGet, "/notes", "", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("missing token returned %d, want 401", recorder.Code)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/notes", "not-a-token", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token returned %d, want 401", recorder.Code)
	}
}

func TestNoteLifecycle(t *testing.T) {
	handler := newTestHandler(t)
	token, _ := registerUser(t, handler, "ada")

	recorder := doJSON(t, handler, http.MethodPost, "/notes", token, `{"title":"Trip plan","icon":"🧭"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create note returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var created notePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode note: %v", err)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/notes", token, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("list notes returned %d", recorder.Code)
	}
	var listing struct {
		Notes []notePayload `json:"notes"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing.Notes) != 1 || listing.Notes[0].ID != created.ID {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	recorder = doJSON(t, handler, http.MethodPatch, "/notes/"+created.ID, token, `{"title":"Trip plan v2"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("patch note returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var patched notePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &patched); err != nil {
		t.Fatalf("failed to decode patched note: %v", err)
	}
	if patched.Title != "Trip plan v2" || patched.Icon != "🧭" {
		t.Fatalf("patch did not preserve untouched fields: %+v", patched)
	}

	recorder = doJSON(t, handler, http.MethodDelete, "/notes/"+created.ID, token, "")
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("delete note returned %d", recorder.Code)
	}
	recorder = doJSON(t, handler, http.MethodGet, "/notes/"+created.ID, token, "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("deleted note fetch returned %d, want 404", recorder.Code)
	}
}

func TestForeignNoteIsHidden(t *testing.T) {
	handler := newTestHandler(t)
	ownerToken, _ := registerUser(t, handler, "ada")
	intruderToken, _ := registerUser(t, handler, "mallory")

	recorder := doJSON(t, handler, http.MethodPost, "/notes", ownerToken, `{"title":"Private"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create note returned %d", recorder.Code)
	}
	var created notePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode note: %v", err)
	}

	// Absence and denial are indistinguishable to non-owners.
	recorder = doJSON(t, handler, http.MethodGet, "/notes/"+created.ID, intruderToken, "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("foreign note fetch returned %d, want 404", recorder.Code)
	}
	recorder = doJSON(t, handler, http.MethodGet, "/notes/"+created.ID+"/blocks", intruderToken, "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("foreign blocks fetch returned %d, want 404", recorder.Code)
	}
	recorder = doJSON(t, handler, http.MethodDelete, "/notes/"+created.ID, intruderToken, "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("foreign delete returned %d, want 404", recorder.Code)
	}
}

func TestNoteBlocksSnapshot(t *testing.T) {
	handler := newTestHandler(t)
	token, _ := registerUser(t, handler, "ada")

	recorder := doJSON(t, handler, http.MethodPost, "/notes", token, `{"title":"Doc"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create note returned %d", recorder.Code)
	}
	var created notePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode note: %v", err)
	}

	recorder = doJSON(t, handler, http.MethodGet, "/notes/"+created.ID+"/blocks", token, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("blocks fetch returned %d: %s", recorder.Code, recorder.Body.String())
	}
	var snapshot realtime.JoinedPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snapshot.NoteID != created.ID || len(snapshot.Blocks) != 0 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestCreateNoteRejectsBlankTitle(t *testing.T) {
	handler := newTestHandler(t)
	token, _ := registerUser(t, handler, "ada")

	recorder := doJSON(t, handler, http.MethodPost, "/notes", token, `{"title":"   "}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("blank title returned %d, want 400", recorder.Code)
	}
	expected := `{"error":"invalid_title"}`
	if recorder.Body.String() != expected {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}
