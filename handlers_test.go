package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kartai/pkg/cache"
	"kartai/pkg/deals"
	"kartai/pkg/ocr"
	"kartai/pkg/storage"
)

type fakeEngine struct {
	full   string
	digits string
}

func (f *fakeEngine) Recognize(ctx context.Context, _ image.Image, req ocr.RecognizeRequest) (ocr.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Recognition{}, err
	}
	text := f.digits
	if req.PageSegMode == ocr.PSMAuto {
		text = f.full
	}
	return ocr.Recognition{Text: text, Confidence: 80}, nil
}

// performRequest sends a request through the router and records the response.
func performRequest(r http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func postJSON(r http.Handler, method, path string, v any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(v)
	return performRequest(r, method, path, bytes.NewReader(b), "application/json")
}

func multipartBody(t *testing.T, field, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	w, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, _ = w.Write(data)
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	img := imaging.New(300, 200, color.NRGBA{240, 240, 240, 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

type testServer struct {
	*Server
	kv *cache.Memory
}

func setupTestServer(t *testing.T, eng ocr.Engine) *testServer {
	gin.SetMode(gin.TestMode)
	store := deals.NewMemoryStore()
	kv := cache.NewMemory()
	live := deals.NewLive(store, kv)
	require.NoError(t, live.Start(context.Background(), ""))
	t.Cleanup(live.Close)

	signer := storage.NewURLSigner("test-secret", time.Hour)
	fs, err := storage.NewFs(t.TempDir(), signer)
	require.NoError(t, err)

	if eng == nil {
		eng = &fakeEngine{}
	}
	s := newServer(serverConfig{
		Store:   store,
		Live:    live,
		KV:      kv,
		Scanner: ocr.NewScanner(eng),
		Tasks:   ocr.NewTasks(time.Minute),
		Presets: ocr.NewPresetStore(""),
		Objects: fs,
		Signer:  signer,
	})
	return &testServer{Server: s, kv: kv}
}

type listResponse struct {
	Deals []struct {
		ID    string  `json:"id"`
		Item  string  `json:"item"`
		Price float64 `json:"price"`
	} `json:"deals"`
	View deals.ViewOptions `json:"view"`
}

func listDeals(t *testing.T, s *testServer, query string) listResponse {
	resp := performRequest(s.e, http.MethodGet, "/deals"+query, nil, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var out listResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t, nil)
	resp := performRequest(s.e, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"status":"ok"`)
}

func TestDealLifecycle(t *testing.T) {
	s := setupTestServer(t, nil)

	resp := postJSON(s.e, http.MethodPost, "/deals", map[string]string{
		"type": "grocery", "item": "Milk", "store": "Maxi", "price": "4.99", "unit": "/ea",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var created struct{ ID string }
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	list := listDeals(t, s, "")
	require.Len(t, list.Deals, 1)
	assert.Equal(t, "Milk", list.Deals[0].Item)

	resp = postJSON(s.e, http.MethodPatch, "/deals/"+created.ID, map[string]any{"price": 3.49})
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())
	assert.InDelta(t, 3.49, listDeals(t, s, "").Deals[0].Price, 1e-9)

	resp = postJSON(s.e, http.MethodPatch, "/deals/"+created.ID, map[string]any{"price": -1})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = postJSON(s.e, http.MethodPatch, "/deals/missing", map[string]any{"price": 1})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = performRequest(s.e, http.MethodDelete, "/deals/"+created.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	resp = performRequest(s.e, http.MethodDelete, "/deals/"+created.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Empty(t, listDeals(t, s, "").Deals)
}

func TestCreateDealFieldErrors(t *testing.T) {
	s := setupTestServer(t, nil)
	resp := postJSON(s.e, http.MethodPost, "/deals", map[string]string{"type": "gas", "price": "abc"})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var body struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Contains(t, body.Errors, "station")
	assert.Contains(t, body.Errors, "price")
}

func TestCreateDealFromForm(t *testing.T) {
	s := setupTestServer(t, nil)
	form := url.Values{"type": {"gas"}, "station": {"Shell"}, "price": {"1.659"}, "unit": {"/L"}}
	resp := performRequest(s.e, http.MethodPost, "/deals", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
}

func TestUpsertDealKeepsOneRecord(t *testing.T) {
	s := setupTestServer(t, nil)
	deal := map[string]string{"type": "grocery", "item": "Eggs", "store": "IGA", "price": "5.49", "unit": "/dozen"}

	var ids []string
	for _, price := range []string{"5.49", "4.99"} {
		deal["price"] = price
		resp := postJSON(s.e, http.MethodPost, "/deals?upsert=true", deal)
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
		var created struct{ ID string }
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
		ids = append(ids, created.ID)
	}
	assert.Equal(t, ids[0], ids[1])
	assert.True(t, strings.HasPrefix(ids[0], "grocery_"))

	list := listDeals(t, s, "")
	require.Len(t, list.Deals, 1)
	assert.InDelta(t, 4.99, list.Deals[0].Price, 1e-9)
}

func TestViewStateIsRemembered(t *testing.T) {
	s := setupTestServer(t, nil)
	for _, d := range []map[string]string{
		{"type": "grocery", "item": "Butter", "store": "Maxi", "price": "6.99"},
		{"type": "grocery", "item": "Apples", "store": "Metro", "price": "2.99", "unit": "/lb"},
		{"type": "gas", "station": "Esso", "price": "1.62", "unit": "/L"},
	} {
		require.Equal(t, http.StatusCreated, postJSON(s.e, http.MethodPost, "/deals", d).Code)
	}

	list := listDeals(t, s, "?type=grocery&sort=alpha")
	require.Len(t, list.Deals, 2)
	assert.Equal(t, "Apples", list.Deals[0].Item)

	// no parameters: the saved view applies
	list = listDeals(t, s, "")
	assert.Equal(t, deals.FilterGrocery, list.View.Type)
	assert.Equal(t, deals.SortAlpha, list.View.Sort)
	require.Len(t, list.Deals, 2)
	assert.Equal(t, "alpha", s.kv.GetString(cache.KeyViewSort, ""))

	list = listDeals(t, s, "?q=butter")
	require.Len(t, list.Deals, 1)
	assert.Equal(t, "Butter", list.Deals[0].Item)
}

func TestExportCSV(t *testing.T) {
	s := setupTestServer(t, nil)
	require.Equal(t, http.StatusCreated, postJSON(s.e, http.MethodPost, "/deals",
		map[string]string{"type": "grocery", "item": "Milk", "store": "Maxi", "price": "4.99"}).Code)

	resp := performRequest(s.e, http.MethodGet, "/deals/export.csv?type=all&q=", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Get("Content-Type"), "text/csv")
	lines := strings.Split(strings.TrimSpace(resp.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,type,item"))
	assert.Contains(t, lines[1], "Milk")
}

func TestScan(t *testing.T) {
	s := setupTestServer(t, &fakeEngine{full: "MAXI\nBananas", digits: "1.99"})
	body, ct := multipartBody(t, "image", "shelf.png", pngBytes(t), map[string]string{"mode": "shelf"})
	resp := performRequest(s.e, http.MethodPost, "/ocr/scan", body, ct)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var res ocr.ScanResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &res))
	require.NotNil(t, res.Suggestion)
	assert.InDelta(t, 1.99, res.Suggestion.Price, 1e-9)
	assert.Equal(t, "Bananas", res.Suggestion.Item)
	assert.Equal(t, "MAXI", res.Suggestion.Store)
	assert.Equal(t, ocr.ModeShelf, res.Mode)
}

func TestScanRejectsBadInput(t *testing.T) {
	s := setupTestServer(t, nil)

	body, ct := multipartBody(t, "other", "x.png", pngBytes(t), nil)
	assert.Equal(t, http.StatusBadRequest, performRequest(s.e, http.MethodPost, "/ocr/scan", body, ct).Code)

	body, ct = multipartBody(t, "image", "x.png", []byte("not an image"), nil)
	assert.Equal(t, http.StatusBadRequest, performRequest(s.e, http.MethodPost, "/ocr/scan", body, ct).Code)

	body, ct = multipartBody(t, "image", "x.png", pngBytes(t), map[string]string{"preset": "nope"})
	assert.Equal(t, http.StatusBadRequest, performRequest(s.e, http.MethodPost, "/ocr/scan", body, ct).Code)

	body, ct = multipartBody(t, "image", "x.png", pngBytes(t), map[string]string{"yOffset": "up"})
	assert.Equal(t, http.StatusBadRequest, performRequest(s.e, http.MethodPost, "/ocr/scan", body, ct).Code)
}

func TestScanTask(t *testing.T) {
	s := setupTestServer(t, &fakeEngine{full: "Cheddar", digits: "5.99"})
	body, ct := multipartBody(t, "image", "x.png", pngBytes(t), map[string]string{"mode": "shelf"})
	resp := performRequest(s.e, http.MethodPost, "/ocr/tasks", body, ct)
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())
	var started struct{ ID string }
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &started))

	var snap ocr.TaskSnapshot
	require.Eventually(t, func() bool {
		resp := performRequest(s.e, http.MethodGet, "/ocr/tasks/"+started.ID, nil, "")
		if resp.Code != http.StatusOK {
			return false
		}
		_ = json.Unmarshal(resp.Body.Bytes(), &snap)
		return snap.Status == ocr.TaskDone
	}, 5*time.Second, 10*time.Millisecond)
	require.NotNil(t, snap.Result)
	require.NotNil(t, snap.Result.Suggestion)
	assert.InDelta(t, 5.99, snap.Result.Suggestion.Price, 1e-9)
	assert.Equal(t, ocr.StageDone, snap.Progress.Stage)

	assert.Equal(t, http.StatusNoContent, performRequest(s.e, http.MethodDelete, "/ocr/tasks/"+started.ID, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, performRequest(s.e, http.MethodGet, "/ocr/tasks/"+started.ID, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, performRequest(s.e, http.MethodDelete, "/ocr/tasks/"+started.ID, nil, "").Code)
}

func TestPresets(t *testing.T) {
	s := setupTestServer(t, nil)
	resp := performRequest(s.e, http.MethodGet, "/ocr/presets", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.NotContains(t, resp.Body.String(), `"error"`)
}

func TestUploadServeDelete(t *testing.T) {
	s := setupTestServer(t, nil)
	data := pngBytes(t)
	body, ct := multipartBody(t, "file", "deal.PNG", data, nil)
	resp := performRequest(s.e, http.MethodPost, "/uploads", body, ct)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var obj storage.Object
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &obj))
	assert.True(t, strings.HasPrefix(obj.Path, "deals/"))
	assert.True(t, strings.HasSuffix(obj.Path, ".png"))
	assert.Equal(t, int64(len(data)), obj.Size)

	resp = performRequest(s.e, http.MethodGet, obj.URL, nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, data, resp.Body.Bytes())
	assert.Equal(t, "image/png", resp.Header().Get("Content-Type"))

	resp = performRequest(s.e, http.MethodGet, "/files/"+obj.Path+"?token=forged", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = performRequest(s.e, http.MethodDelete, "/uploads/"+obj.Path, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	resp = performRequest(s.e, http.MethodGet, obj.URL, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	// deleting a missing object is fine
	resp = performRequest(s.e, http.MethodDelete, "/uploads/"+obj.Path, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
}

func TestUploadMissingFile(t *testing.T) {
	s := setupTestServer(t, nil)
	body, ct := multipartBody(t, "image", "x.png", pngBytes(t), nil)
	assert.Equal(t, http.StatusBadRequest, performRequest(s.e, http.MethodPost, "/uploads", body, ct).Code)
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	s := setupTestServer(t, nil)
	s.MaxUpload = 1 << 10
	big := bytes.Repeat([]byte{0xff}, 200<<10)

	body, ct := multipartBody(t, "file", "big.png", big, nil)
	resp := performRequest(s.e, http.MethodPost, "/uploads", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)

	// no declared length: the body reader enforces the limit
	body, ct = multipartBody(t, "file", "big.png", big, nil)
	req := httptest.NewRequest(http.MethodPost, "/uploads", body)
	req.Header.Set("Content-Type", ct)
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	// the limit applies to the file itself even under the body slack
	body, ct = multipartBody(t, "file", "small.png", bytes.Repeat([]byte{1}, 2<<10), nil)
	resp = performRequest(s.e, http.MethodPost, "/uploads", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
}

func TestScanRejectsOversizedInput(t *testing.T) {
	s := setupTestServer(t, &fakeEngine{full: "Cheddar", digits: "5.99"})
	s.MaxUpload = 1 << 10
	body, ct := multipartBody(t, "image", "x.png", bytes.Repeat([]byte{0xff}, 200<<10), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, performRequest(s.e, http.MethodPost, "/ocr/scan", body, ct).Code)

	s = setupTestServer(t, &fakeEngine{full: "Cheddar", digits: "5.99"})
	s.MaxScanPixels = 1000
	body, ct = multipartBody(t, "image", "x.png", pngBytes(t), map[string]string{"mode": "shelf"})
	resp := performRequest(s.e, http.MethodPost, "/ocr/tasks", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code, resp.Body.String())
}

// streamRecorder satisfies http.CloseNotifier, which gin's Stream needs.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool {
	return r.closed
}

func TestStreamDeliversCurrentList(t *testing.T) {
	s := setupTestServer(t, nil)
	require.Equal(t, http.StatusCreated, postJSON(s.e, http.MethodPost, "/deals",
		map[string]string{"type": "grocery", "item": "Milk", "store": "Maxi", "price": "4.99"}).Code)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/deals/stream", nil).WithContext(ctx)
	rec := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool)}
	done := make(chan struct{})
	go func() {
		s.e.ServeHTTP(rec, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Contains(t, rec.Body.String(), "event:deals")
	assert.Contains(t, rec.Body.String(), "Milk")
}
