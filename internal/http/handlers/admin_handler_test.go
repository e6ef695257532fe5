package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-telejelly-backend/internal/accounts"
	"github.com/tbourn/go-telejelly-backend/internal/domain"
	"github.com/tbourn/go-telejelly-backend/internal/media"
)

type fakeQueue struct {
	entries    []domain.MediaRequest
	replaced   []domain.MediaRequest
	replaceErr error
}

func (f *fakeQueue) List() []domain.MediaRequest { return f.entries }

func (f *fakeQueue) Replace(entries []domain.MediaRequest) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced = entries
	return nil
}

type fakeCatalog struct {
	folders []media.Folder
	err     error
}

func (f *fakeCatalog) Folders(context.Context) ([]media.Folder, error) { return f.folders, f.err }

type fakeDirectory struct {
	accounts []domain.Account
	info     *accounts.SessionInfo
	infoErr  error
	revoked  []string
}

func (f *fakeDirectory) Accounts(context.Context) ([]domain.Account, error) {
	return f.accounts, nil
}

func (f *fakeDirectory) Session(_ context.Context, token string) (*accounts.SessionInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeDirectory) RevokeSession(_ context.Context, token string) error {
	f.revoked = append(f.revoked, token)
	return nil
}

func newAdminRouter(validate TokenValidator, queue *fakeQueue) *gin.Engine {
	return newAdminRouterWith(validate, queue, &fakeCatalog{}, &fakeDirectory{})
}

func newAdminRouterWith(validate TokenValidator, queue *fakeQueue, catalog FolderCatalog, dir AccountDirectory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAdmin(validate, queue, catalog, dir)
	r := gin.New()
	r.POST("/api/telejelly/validate-bot-token", h.ValidateBotToken)
	r.GET("/api/telejelly/requests", h.ListRequests)
	r.POST("/api/telejelly/requests", h.ReplaceRequests)
	r.GET("/api/telejelly/folders", h.ListFolders)
	r.GET("/api/telejelly/accounts", h.ListAccounts)
	r.GET("/api/telejelly/sessions/:token", h.GetSession)
	r.DELETE("/api/telejelly/sessions/:token", h.RevokeSession)
	return r
}

func TestValidateBotToken_OK(t *testing.T) {
	var probed string
	r := newAdminRouter(func(token string) (string, error) {
		probed = token
		return "telejelly_bot", nil
	}, &fakeQueue{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/telejelly/validate-bot-token",
		strings.NewReader(`{"token":" 12345:abc "}`))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var res ValidateTokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !res.Ok || res.BotUsername != "telejelly_bot" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if probed != "12345:abc" {
		t.Fatalf("token not trimmed: %q", probed)
	}
}

func TestValidateBotToken_Rejected(t *testing.T) {
	r := newAdminRouter(func(string) (string, error) {
		return "", errors.New("Unauthorized")
	}, &fakeQueue{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/telejelly/validate-bot-token",
		strings.NewReader(`{"token":"bad"}`))
	r.ServeHTTP(w, req)

	// A rejected token is an outcome, not a transport error.
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var res ValidateTokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("json: %v", err)
	}
	if res.Ok || res.ErrorMessage == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestValidateBotToken_MissingToken(t *testing.T) {
	r := newAdminRouter(func(string) (string, error) {
		t.Fatalf("validator must not run")
		return "", nil
	}, &fakeQueue{})

	for _, body := range []string{`{}`, `{"token":"  "}`, `{nope`} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/telejelly/validate-bot-token",
			strings.NewReader(body))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d", body, w.Code)
		}
	}
}

func TestListRequests_EmptyIsArray(t *testing.T) {
	r := newAdminRouter(nil, &fakeQueue{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/telejelly/requests", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Fatalf("expected empty array, got %q", got)
	}
}

func TestListRequests_ReturnsEntries(t *testing.T) {
	year := 1999
	queue := &fakeQueue{entries: []domain.MediaRequest{{
		ExternalID:           "tt0133093",
		Title:                "The Matrix",
		Year:                 &year,
		TypeName:             "Movie",
		RequesterID:          "4242",
		RequesterDisplayName: "Alice",
		RequestedAtUtc:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}}}
	r := newAdminRouter(nil, queue)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/telejelly/requests", nil)
	r.ServeHTTP(w, req)

	var got []domain.MediaRequest
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "tt0133093" || got[0].Title != "The Matrix" {
		t.Fatalf("unexpected entries: %+v", got)
	}
}

func TestReplaceRequests(t *testing.T) {
	queue := &fakeQueue{}
	r := newAdminRouter(nil, queue)

	body, _ := json.Marshal([]domain.MediaRequest{
		{ExternalID: "tt0113277", Title: "Heat"},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/telejelly/requests", bytes.NewReader(body))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}
	if len(queue.replaced) != 1 || queue.replaced[0].ExternalID != "tt0113277" {
		t.Fatalf("queue not replaced: %+v", queue.replaced)
	}
}

func TestListFolders(t *testing.T) {
	r := newAdminRouterWith(nil, &fakeQueue{}, &fakeCatalog{folders: []media.Folder{
		{ID: "f1", Name: "Movies"},
		{ID: "f2", Name: "Shows"},
	}}, &fakeDirectory{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/telejelly/folders", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var got []FolderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(got) != 2 || got[0].ID != "f1" || got[1].Name != "Shows" {
		t.Fatalf("unexpected folders: %+v", got)
	}
}

func TestListFolders_UpstreamError(t *testing.T) {
	r := newAdminRouterWith(nil, &fakeQueue{}, &fakeCatalog{err: errors.New("timeout")}, &fakeDirectory{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/telejelly/folders", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != ErrCodeUpstream {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestListAccounts_IncludesFolderGrants(t *testing.T) {
	dir := &fakeDirectory{accounts: []domain.Account{
		{ID: "a1", Handle: "alice", FolderIDs: "f1,f2"},
	}}
	r := newAdminRouterWith(nil, &fakeQueue{}, &fakeCatalog{}, dir)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/telejelly/accounts", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var got []AccountResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(got) != 1 || got[0].Handle != "alice" {
		t.Fatalf("unexpected accounts: %+v", got)
	}
	if len(got[0].Folders) != 2 || got[0].Folders[0] != "f1" {
		t.Fatalf("folder grants missing: %+v", got[0].Folders)
	}
}

func TestGetSession(t *testing.T) {
	dir := &fakeDirectory{info: &accounts.SessionInfo{
		Session: &domain.Session{
			Token:     "tok-1",
			AccountID: "a1",
			CreatedAt: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
		},
		ActiveSessions: 3,
	}}
	r := newAdminRouterWith(nil, &fakeQueue{}, &fakeCatalog{}, dir)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/telejelly/sessions/tok-1", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var got SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if got.Token != "tok-1" || got.AccountID != "a1" || got.ActiveSessions != 3 {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.CreatedAt != "2025-05-01T10:00:00Z" {
		t.Fatalf("createdAt = %q", got.CreatedAt)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	r := newAdminRouterWith(nil, &fakeQueue{}, &fakeCatalog{}, &fakeDirectory{infoErr: accounts.ErrNotFound})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/telejelly/sessions/missing", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestRevokeSession(t *testing.T) {
	dir := &fakeDirectory{}
	r := newAdminRouterWith(nil, &fakeQueue{}, &fakeCatalog{}, dir)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/telejelly/sessions/tok-9", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}
	if len(dir.revoked) != 1 || dir.revoked[0] != "tok-9" {
		t.Fatalf("revoke not forwarded: %+v", dir.revoked)
	}
}

func TestReplaceRequests_Errors(t *testing.T) {
	// Malformed body.
	queue := &fakeQueue{}
	r := newAdminRouter(nil, queue)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/telejelly/requests", strings.NewReader(`{"not":"a list"}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}

	// Persistence failure.
	r = newAdminRouter(nil, &fakeQueue{replaceErr: errors.New("disk full")})
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/telejelly/requests", strings.NewReader(`[]`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != ErrCodeSaveFailed {
		t.Fatalf("code=%q", er.Code)
	}
}
