package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chaos-organizer/internal/blob"
	"chaos-organizer/internal/idgen"
	"chaos-organizer/internal/ingest"
	"chaos-organizer/internal/models"
	"chaos-organizer/internal/query"
	"chaos-organizer/internal/store"
	"chaos-organizer/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type brokenSink struct{}

func (brokenSink) Load(context.Context) ([]byte, error) { return nil, nil }
func (brokenSink) Save(context.Context, []byte) error  { return errors.New("read-only filesystem") }
func (brokenSink) Close() error                        { return nil }

type testEnv struct {
	router http.Handler
	log    *store.EventStore
	hub    *ws.Hub
}

func newTestEnv(t *testing.T, sink store.Sink, opts Options) *testEnv {
	t.Helper()
	if sink == nil {
		sink = store.NewFileSink(filepath.Join(t.TempDir(), "messages.json"))
	}
	log := store.New(sink)
	log.Load(context.Background())

	hub := ws.NewHub()
	blobs := blob.NewDiskStore(t.TempDir())
	in := ingest.NewService(log, hub, blobs, idgen.NewSequence(), nil)
	q := query.NewService(log, 0)
	wsHandler := ws.NewHandler(hub, in, ws.Options{})
	t.Cleanup(hub.Shutdown)

	srv := NewServer(in, q, blobs, log, wsHandler, opts)
	return &testEnv{router: srv.Router(), log: log, hub: hub}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, field, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	} else if err := mw.WriteField("note", "no file here"); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	body := decode[map[string]string](t, rec)
	if body["error"] != msg {
		t.Fatalf("error = %q, want %q", body["error"], msg)
	}
}

func TestStatusAndBanner(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec); got["status"] != "Server is running!" {
		t.Errorf("body = %v", got)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != Banner {
		t.Errorf("banner = %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateMessageThenList(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	rec := env.do(postJSON("/messages", `{"type":"text","content":"hi"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decode[models.Event](t, rec)
	if created.Type != models.KindText || created.Content != "hi" || created.ID == 0 {
		t.Fatalf("created = %+v", created)
	}
	if !strings.Contains(rec.Body.String(), fmt.Sprintf(`"id":%d`, created.ID)) {
		t.Errorf("id not an integer in %s", rec.Body.String())
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/messages?offset=0&limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	page := decode[[]models.Event](t, rec)
	if len(page) != 1 || page[0].ID != created.ID {
		t.Fatalf("page = %+v", page)
	}
}

func TestCreateMessageRejects(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	for _, body := range []string{`{}`, `{"type":"text"}`, `{"content":"x"}`, `not json`, `{"type":"file","content":"x"}`} {
		t.Run(body, func(t *testing.T) {
			assertError(t, env.do(postJSON("/messages", body)), http.StatusBadRequest, "Invalid request data")
		})
	}
	if env.log.Len() != 0 {
		t.Fatalf("log has %d events after rejected posts", env.log.Len())
	}
}

func TestCreateMessagePersistenceFailure(t *testing.T) {
	env := newTestEnv(t, brokenSink{}, Options{})

	assertError(t, env.do(postJSON("/messages", `{"type":"text","content":"hi"}`)), http.StatusInternalServerError, "Failed to persist event")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/messages", nil))
	if page := decode[[]models.Event](t, rec); len(page) != 0 {
		t.Fatalf("unpersisted event listed: %+v", page)
	}
}

func TestListMessagesPagination(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	for i := 0; i < 15; i++ {
		rec := env.do(postJSON("/messages", fmt.Sprintf(`{"type":"text","content":"m%d"}`, i)))
		if rec.Code != http.StatusCreated {
			t.Fatalf("post %d: %d", i, rec.Code)
		}
	}

	tests := []struct {
		query string
		count int
		first string
	}{
		{"", 10, "m0"},
		{"?offset=10", 5, "m10"},
		{"?offset=3&limit=2", 2, "m3"},
		{"?offset=bogus&limit=bogus", 10, "m0"},
		{"?offset=15&limit=5", 0, ""},
		{"?offset=100", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodGet, "/messages"+tt.query, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			page := decode[[]models.Event](t, rec)
			if len(page) != tt.count {
				t.Fatalf("len = %d, want %d", len(page), tt.count)
			}
			if tt.count > 0 && page[0].Content != tt.first {
				t.Errorf("first = %q, want %q", page[0].Content, tt.first)
			}
			if tt.count == 0 && strings.TrimSpace(rec.Body.String()) != "[]" {
				t.Errorf("empty page body = %s, want []", rec.Body.String())
			}
		})
	}
}

func TestUploadWithoutFile(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	assertError(t, env.do(uploadRequest(t, "", "", "", nil)), http.StatusBadRequest, "No file uploaded")
	assertError(t, env.do(uploadRequest(t, "file", "empty.txt", "text/plain", nil)), http.StatusBadRequest, "No file uploaded")
	assertError(t, env.do(uploadRequest(t, "attachment", "a.txt", "text/plain", []byte("x"))), http.StatusBadRequest, "No file uploaded")
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, nil, Options{MaxUploadSize: 1024})

	req := uploadRequest(t, "file", "big.bin", "application/octet-stream", bytes.Repeat([]byte("x"), 4096))
	assertError(t, env.do(req), http.StatusRequestEntityTooLarge, "File too large")
}

func TestUploadServeAndDownload(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	content := []byte("quarterly numbers\n")

	rec := env.do(uploadRequest(t, "file", "report final.txt", "text/plain", content))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	ev := decode[models.Event](t, rec)
	if ev.Type != models.KindFile || ev.Content != "/uploads/"+ev.Filename {
		t.Fatalf("file event = %+v", ev)
	}
	if ev.OriginalName != "report final.txt" || ev.MimeType != "text/plain" || ev.Size != int64(len(content)) {
		t.Errorf("file meta = %+v", ev.FileMeta)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, ev.Content, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("serve status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("serve content type = %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Errorf("served %q", rec.Body.String())
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/download/"+ev.Filename, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") || !strings.Contains(cd, "report final.txt") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("download content type = %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Errorf("downloaded %q", rec.Body.String())
	}
}

func TestUploadSniffsGenericContentType(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	rec := env.do(uploadRequest(t, "file", "pic", "application/octet-stream", png))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rec.Code)
	}
	if ev := decode[models.Event](t, rec); ev.MimeType != "image/png" {
		t.Errorf("mime type = %q, want image/png", ev.MimeType)
	}
}

func TestUnknownFiles(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	for _, path := range []string{"/download/unknown.txt", "/uploads/unknown.txt", "/uploads/..secret"} {
		t.Run(path, func(t *testing.T) {
			assertError(t, env.do(httptest.NewRequest(http.MethodGet, path, nil)), http.StatusNotFound, "File not found")
		})
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil, Options{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := env.do(req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allowed origin header = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = env.do(req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("disallowed origin status = %d, want 403", rec.Code)
	}
}

func TestPostedMessageReachesRealtimeClients(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(srv.URL+"/messages", "application/json", strings.NewReader(`{"type":"link","content":"https://go.dev"}`))
	if err != nil {
		t.Fatal(err)
	}
	var created models.Event
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var pushed models.Event
	if err := json.Unmarshal(data, &pushed); err != nil {
		t.Fatal(err)
	}
	if pushed.ID != created.ID || pushed.Content != "https://go.dev" {
		t.Fatalf("pushed %+v, created %+v", pushed, created)
	}

	// The event is already listed by the time it is pushed.
	rec := env.do(httptest.NewRequest(http.MethodGet, "/messages", nil))
	if page := decode[[]models.Event](t, rec); len(page) != 1 || page[0].ID != pushed.ID {
		t.Fatalf("page = %+v", page)
	}
}

func TestRealtimeCannotRewriteDownloadMetadata(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	rec := env.do(uploadRequest(t, "file", "report.pdf", "application/pdf", []byte("%PDF-1.4 quarterly")))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	uploaded := decode[models.Event](t, rec)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	forged := fmt.Sprintf(`{"type":"file","content":"x","filename":%q,"originalName":"evil.html","mimeType":"text/html"}`, uploaded.Filename)
	for _, msg := range []string{forged, `{"type":"text","content":"marker"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatal(err)
		}
	}

	// Messages are handled in order, so the marker's echo means the forged
	// message has already been processed.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var echoed models.Event
	if err := json.Unmarshal(data, &echoed); err != nil {
		t.Fatal(err)
	}
	if echoed.Content != "marker" {
		t.Fatalf("first pushed event = %+v, want the marker", echoed)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/download/"+uploaded.Filename, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q, want application/pdf", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "report.pdf") {
		t.Errorf("Content-Disposition = %q, want report.pdf", cd)
	}
	if env.log.Len() != 2 {
		t.Errorf("log has %d events, want the upload and the marker", env.log.Len())
	}
}
