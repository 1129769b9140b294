package session

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/document"
	"github.com/noah-isme/printdesk/internal/merchant"
	"github.com/noah-isme/printdesk/internal/remote"
)

type stubMerchants struct {
	list  []merchant.Merchant
	err   error
	token string
}

func (s *stubMerchants) List(_ context.Context, token string) ([]merchant.Merchant, error) {
	s.token = token
	return s.list, s.err
}

type handlerFixture struct {
	store     *Store
	merchants *stubMerchants
	router    http.Handler
	sessionID string
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store := NewStore(StoreConfig{Rate: 200, Currency: "INR"})
	st, err := store.Create(context.Background())
	require.NoError(t, err)

	merchants := &stubMerchants{list: []merchant.Merchant{{ID: "m-1", BusinessName: "Quick Print"}}}
	h := &Handler{
		Store: store,
		Intake: document.Intake{
			Accepted: []string{"application/pdf"},
			Counter:  func(data []byte) (int, bool) { return len(data), true },
		},
		Merchants: merchants,
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if id := req.Header.Get("X-Test-Session"); id != "" {
				req = req.WithContext(common.WithSessionID(req.Context(), id))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.Routes(r)
	return &handlerFixture{store: store, merchants: merchants, router: r, sessionID: st.ID}
}

func (f *handlerFixture) do(t *testing.T, method, path, contentType string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Test-Session", f.sessionID)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func multipartBody(t *testing.T, files map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, mediaType := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		h.Set("Content-Type", mediaType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(strings.Repeat("x", 4)))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestUploadReplacesDocuments(t *testing.T) {
	f := newHandlerFixture(t)
	body, ct := multipartBody(t, map[string]string{"a.pdf": "application/pdf", "notes.txt": "text/plain"})

	rec, out := f.do(t, http.MethodPost, "/session/documents", ct, body)
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	require.Len(t, data["documents"], 1)
	require.EqualValues(t, 4, data["totalPages"])
	require.Equal(t, false, data["priceFresh"])
	meta := out["meta"].(map[string]any)
	require.Len(t, meta["rejected"], 1)
}

func TestUploadWithNoValidFiles(t *testing.T) {
	f := newHandlerFixture(t)
	body, ct := multipartBody(t, map[string]string{"notes.txt": "text/plain"})

	rec, out := f.do(t, http.MethodPost, "/session/documents", ct, body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, common.CodeNoValidFiles, errorCode(out))

	st, err := f.store.Get(context.Background(), f.sessionID)
	require.NoError(t, err)
	require.Zero(t, st.Version)
}

func TestUploadRequiresMultipart(t *testing.T) {
	f := newHandlerFixture(t)
	rec, out := f.do(t, http.MethodPost, "/session/documents", "application/json", []byte(`{}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, common.CodeValidation, errorCode(out))
}

func TestOptionsAndPriceFlow(t *testing.T) {
	f := newHandlerFixture(t)
	_, err := f.store.Dispatch(context.Background(), f.sessionID, SetDocuments{Documents: sampleDocs()})
	require.NoError(t, err)

	rec, _ := f.do(t, http.MethodPatch, "/session/options", "application/json", []byte(`{"copies":2,"colorMode":"color","sidedness":"double"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out := f.do(t, http.MethodPost, "/session/price", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	require.EqualValues(t, 5120, data["total"])
	require.Equal(t, "INR 51.20", data["totalDisplay"])

	rec, out = f.do(t, http.MethodPatch, "/session/options", "application/json", []byte(`{"copies":11}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, common.CodeValidation, errorCode(out))

	rec, _ = f.do(t, http.MethodPatch, "/session/options", "application/json", []byte(`{}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocumentOptionsEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	_, err := f.store.Dispatch(context.Background(), f.sessionID, SetDocuments{Documents: sampleDocs()})
	require.NoError(t, err)

	rec, out := f.do(t, http.MethodPut, "/session/documents/doc-1/options", "application/json", []byte(`{"colorMode":"color"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	docs := out["data"].(map[string]any)["documents"].([]any)
	first := docs[0].(map[string]any)
	require.Equal(t, "color", first["options"].(map[string]any)["colorMode"])

	rec, out = f.do(t, http.MethodPut, "/session/documents/missing/options", "application/json", []byte(`{"clear":true}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, common.CodeValidation, errorCode(out))
}

func TestMerchantsRequireLogin(t *testing.T) {
	f := newHandlerFixture(t)
	rec, out := f.do(t, http.MethodGet, "/merchants", "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, common.CodeStaleState, errorCode(out))
}

func TestMerchantListingAndSelection(t *testing.T) {
	f := newHandlerFixture(t)
	_, err := f.store.Dispatch(context.Background(), f.sessionID, Authenticate{User: remote.User{Username: "asha"}, Credential: "tok"})
	require.NoError(t, err)

	rec, out := f.do(t, http.MethodGet, "/merchants", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out["data"], 1)
	require.Equal(t, "tok", f.merchants.token)

	rec, out = f.do(t, http.MethodPost, "/session/merchant", "application/json", []byte(`{"merchantId":"m-1"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	selected := out["data"].(map[string]any)["selectedMerchant"].(map[string]any)
	require.Equal(t, "Quick Print", selected["businessName"])

	rec, out = f.do(t, http.MethodPost, "/session/merchant", "application/json", []byte(`{}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, common.CodeValidation, errorCode(out))
}

func TestUpstreamUnauthorizedLogsSessionOut(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	_, err := f.store.Dispatch(ctx, f.sessionID, Authenticate{User: remote.User{Username: "asha"}, Credential: "tok"})
	require.NoError(t, err)
	_, err = f.store.Dispatch(ctx, f.sessionID, SetDocuments{Documents: sampleDocs()})
	require.NoError(t, err)
	f.merchants.err = common.UnauthorizedError("token expired", nil)

	rec, out := f.do(t, http.MethodGet, "/merchants", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, common.CodeUnauthorized, errorCode(out))

	st, err := f.store.Get(ctx, f.sessionID)
	require.NoError(t, err)
	require.False(t, st.Authenticated)
	require.Empty(t, st.Documents)
}

func TestSessionEndpointsRequireSession(t *testing.T) {
	f := newHandlerFixture(t)
	f.sessionID = ""
	rec, out := f.do(t, http.MethodGet, "/session", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, common.CodeUnauthorized, errorCode(out))
}

func TestViewNeverExposesCredential(t *testing.T) {
	f := newHandlerFixture(t)
	_, err := f.store.Dispatch(context.Background(), f.sessionID, Authenticate{User: remote.User{Username: "asha"}, Credential: "secret-token"})
	require.NoError(t, err)
	rec, _ := f.do(t, http.MethodGet, "/session", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "secret-token")
}
