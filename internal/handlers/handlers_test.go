package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/captioner/internal/archive"
	"github.com/lehigh-university-libraries/captioner/internal/captioning"
	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/providers"
	"github.com/lehigh-university-libraries/captioner/internal/settings"
)

type stubBackend struct {
	calls *int
	reply string
	err   error
}

func (s stubBackend) Complete(ctx context.Context, config providers.Config) (string, error) {
	*s.calls++
	return s.reply, s.err
}

func (s stubBackend) Interrogate(ctx context.Context, image []byte, config providers.Config) (string, error) {
	*s.calls++
	return s.reply, s.err
}

func (s stubBackend) ListModels(ctx context.Context) ([]string, error) {
	*s.calls++
	return []string{"gpt-4o", "gpt-4o-preview", "whisper-1"}, s.err
}

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"GROQ_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "OLLAMA_URL", "OLLAMA_HOST", "CAPTIONER_TEXT_PROVIDER"} {
		t.Setenv(key, "")
	}
}

// newTestHandler returns a handler whose backends answer with reply/err
func newTestHandler(t *testing.T, cfg settings.SessionConfig, reply string, err error) (*Handler, *int) {
	t.Helper()
	clearProviderEnv(t)

	store, openErr := settings.Open("")
	if openErr != nil {
		t.Fatal(openErr)
	}
	if setErr := store.Set(cfg); setErr != nil {
		t.Fatal(setErr)
	}

	calls := new(int)
	h := New(store)
	h.captioningService = &captioning.Service{
		NewBackend: func(provider string, cfg settings.SessionConfig) captioning.Backend {
			return stubBackend{calls: calls, reply: reply, err: err}
		},
		MaxEdge: 16,
	}
	return h, calls
}

func do(t *testing.T, mux http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// seedSession stores a session holding records, with the first one selected
func seedSession(h *Handler, captions ...string) *models.CaptionSession {
	session := h.sessionStore.Create()
	records := make([]models.ImageRecord, 0, len(captions))
	for i, caption := range captions {
		records = append(records, models.ImageRecord{
			Name:    string(rune('a'+i)) + ".jpg",
			Content: base64.StdEncoding.EncodeToString([]byte("img")),
			Caption: caption,
		})
	}
	session.Append(records...)
	return session
}

func TestUploadCreatesSession(t *testing.T) {
	h, _ := newTestHandler(t, settings.SessionConfig{}, "", nil)
	mux := h.Routes()

	zipped, err := archive.Encode([]archive.Entry{
		{Name: "x.png", Data: []byte("png")},
		{Name: "x.txt", Data: []byte("from archive")},
	})
	if err != nil {
		t.Fatal(err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range map[string][]byte{
		"set.zip":   zipped,
		"solo.jpg":  []byte("jpg"),
		"solo.txt":  []byte("standalone"),
		"notes.pdf": []byte("%PDF"),
	} {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[uploadResponse](t, rec)
	if resp.Added != 2 || resp.Failed != 0 || resp.Selected != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}

	session, ok := h.sessionStore.Get(resp.SessionID)
	if !ok {
		t.Fatal("session was not stored")
	}
	records := session.Records()
	if records[0].Name != "x.png" || records[0].Caption != "from archive" {
		t.Errorf("first record = %+v, want archive record first", records[0])
	}
	if records[1].Name != "solo.jpg" || records[1].Caption != "standalone" {
		t.Errorf("second record = %+v", records[1])
	}
}

func TestUploadCorruptArchiveIsReported(t *testing.T) {
	h, _ := newTestHandler(t, settings.SessionConfig{}, "", nil)
	session := seedSession(h, "keep")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("files", "broken.zip")
	part.Write([]byte("not a zip"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/upload?session="+session.ID, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	resp := decode[uploadResponse](t, rec)
	if resp.Failed != 1 || resp.Added != 0 || len(resp.Errors) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if session.Len() != 1 || session.Selected() != 0 {
		t.Errorf("session changed: len %d selected %d", session.Len(), session.Selected())
	}
}

func TestUploadUnknownSession(t *testing.T) {
	h, _ := newTestHandler(t, settings.SessionConfig{}, "", nil)
	rec := do(t, h.Routes(), "POST", "/api/upload?session=missing", map[string]string{"image_url": "http://example.com/a.jpg"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestActionMissingCredential(t *testing.T) {
	h, calls := newTestHandler(t, settings.SessionConfig{}, "unused", nil)
	session := seedSession(h, "a cat")

	for _, action := range []string{"enhance", "extend", "interrogate"} {
		t.Run(action, func(t *testing.T) {
			rec := do(t, h.Routes(), "POST", "/api/sessions/"+session.ID+"/actions/"+action, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			resp := decode[errorResponse](t, rec)
			if resp.Code != "MISSING_CREDENTIAL" {
				t.Errorf("code = %q", resp.Code)
			}
		})
	}

	if *calls != 0 {
		t.Errorf("backend called %d times", *calls)
	}
	if got := session.View(); got.UndoDepth != 0 || got.Images[0].Caption != "a cat" {
		t.Errorf("session changed: %+v", got)
	}
}

func TestActionUpdatesCaptionAndUndo(t *testing.T) {
	h, calls := newTestHandler(t, settings.SessionConfig{GroqAPIKey: "gsk"}, "a tabby cat asleep", nil)
	mux := h.Routes()
	session := seedSession(h, "a cat")

	rec := do(t, mux, "POST", "/api/sessions/"+session.ID+"/actions/enhance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[map[string]any](t, rec)
	if resp["caption"] != "a tabby cat asleep" || resp["provider"] != providers.Groq {
		t.Errorf("unexpected response %v", resp)
	}
	if *calls != 1 {
		t.Errorf("backend called %d times, want 1", *calls)
	}

	rec = do(t, mux, "POST", "/api/sessions/"+session.ID+"/undo", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("undo status = %d", rec.Code)
	}
	if record, _ := session.Record(0); record.Caption != "a cat" {
		t.Errorf("caption after undo = %q", record.Caption)
	}

	rec = do(t, mux, "POST", "/api/sessions/"+session.ID+"/undo", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second undo status = %d, want 409", rec.Code)
	}
}

func TestActionProviderFailureKeepsUndoEntry(t *testing.T) {
	failure := providers.NewError(providers.Groq, "rate_limit_exceeded", errString("slow down"))
	h, _ := newTestHandler(t, settings.SessionConfig{GroqAPIKey: "gsk"}, "", failure)
	session := seedSession(h, "a cat")

	rec := do(t, h.Routes(), "POST", "/api/sessions/"+session.ID+"/actions/extend", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	resp := decode[errorResponse](t, rec)
	if resp.Code != "rate_limit_exceeded" || resp.Error != "slow down" {
		t.Errorf("unexpected error %+v", resp)
	}

	view := session.View()
	if view.Images[0].Caption != "a cat" {
		t.Errorf("caption changed to %q", view.Images[0].Caption)
	}
	if view.UndoDepth != 1 {
		t.Errorf("undo depth = %d, want 1", view.UndoDepth)
	}
	if len(view.Pending) != 0 {
		t.Errorf("pending = %v", view.Pending)
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestActionWithoutSelection(t *testing.T) {
	h, _ := newTestHandler(t, settings.SessionConfig{GroqAPIKey: "gsk"}, "x", nil)
	session := h.sessionStore.Create()

	rec := do(t, h.Routes(), "POST", "/api/sessions/"+session.ID+"/actions/enhance", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}

	rec = do(t, h.Routes(), "POST", "/api/sessions/"+session.ID+"/actions/summarize", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown action status = %d, want 404", rec.Code)
	}
}

func TestSelectAndDelete(t *testing.T) {
	h, _ := newTestHandler(t, settings.SessionConfig{}, "", nil)
	mux := h.Routes()
	session := seedSession(h, "one", "two", "three")
	base := "/api/sessions/" + session.ID

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		status   int
		selected int
	}{
		{"step forward", "POST", base + "/select", map[string]int{"step": 1}, http.StatusOK, 1},
		{"select last", "POST", base + "/select", map[string]int{"index": 2}, http.StatusOK, 2},
		{"step past end", "POST", base + "/select", map[string]int{"step": 1}, http.StatusOK, 2},
		{"select out of range", "POST", base + "/select", map[string]int{"index": 5}, http.StatusNotFound, 2},
		{"delete selected last", "DELETE", base + "/images/2", nil, http.StatusOK, 1},
		{"delete first", "DELETE", base + "/images/0", nil, http.StatusOK, 0},
		{"delete missing", "DELETE", base + "/images/9", nil, http.StatusNotFound, 0},
		{"delete only", "DELETE", base + "/images/0", nil, http.StatusOK, models.NoSelection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if got := session.Selected(); got != tt.selected {
				t.Errorf("selected = %d, want %d", got, tt.selected)
			}
		})
	}
}

func TestEditCaption(t *testing.T) {
	h, _ := newTestHandler(t, settings.SessionConfig{}, "", nil)
	session := seedSession(h, "old")

	rec := do(t, h.Routes(), "PUT", "/api/sessions/"+session.ID+"/images/0/caption", map[string]string{"caption": "new"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	view := decode[models.SessionView](t, rec)
	if view.Images[0].Caption != "new" {
		t.Errorf("caption = %q", view.Images[0].Caption)
	}
	if view.UndoDepth != 0 {
		t.Errorf("manual edit pushed undo entry")
	}
}

func TestExport(t *testing.T) {
	h, _ := newTestHandler(t, settings.SessionConfig{}, "", nil)
	session := seedSession(h, "first", "")

	rec := do(t, h.Routes(), "POST", "/api/sessions/"+session.ID+"/export", models.ExportOptions{
		IncludeImages:      true,
		RenameSequentially: true,
		Prefix:             "cat",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, ExportFilename) {
		t.Errorf("Content-Disposition = %q", got)
	}

	entries, err := archive.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"cat001.jpg", "cat001.txt", "cat002.jpg", "cat002.txt"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, name := range want {
		if entries[i].Name != name {
			t.Errorf("entry %d = %q, want %q", i, entries[i].Name, name)
		}
	}
	if string(entries[3].Data) != "" {
		t.Errorf("empty caption exported as %q", entries[3].Data)
	}
}

func TestExportEmptyBody(t *testing.T) {
	h, _ := newTestHandler(t, settings.SessionConfig{}, "", nil)
	session := seedSession(h, "only")

	req := httptest.NewRequest("POST", "/api/sessions/"+session.ID+"/export", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	entries, err := archive.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestSettingsRedactsSecrets(t *testing.T) {
	h, _ := newTestHandler(t, settings.SessionConfig{OpenAIAPIKey: "sk-secret"}, "", nil)
	mux := h.Routes()

	rec := do(t, mux, "GET", "/api/settings", nil)
	got := decode[settings.SessionConfig](t, rec)
	if got.OpenAIAPIKey != settings.Redacted {
		t.Fatalf("openai key = %q, want redacted", got.OpenAIAPIKey)
	}

	got.SelectedModel = settings.SelectedModel{Provider: providers.OpenAI, Name: "gpt-4o"}
	rec = do(t, mux, "PUT", "/api/settings", got)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	stored := h.settingsStore.Stored()
	if stored.OpenAIAPIKey != "sk-secret" {
		t.Errorf("secret overwritten with %q", stored.OpenAIAPIKey)
	}
	if stored.SelectedModel.Name != "gpt-4o" {
		t.Errorf("selected model = %+v", stored.SelectedModel)
	}
}

func TestModels(t *testing.T) {
	t.Run("no credentials", func(t *testing.T) {
		h, calls := newTestHandler(t, settings.SessionConfig{}, "", nil)
		rec := do(t, h.Routes(), "GET", "/api/models", nil)
		lists := decode[captioning.ModelLists](t, rec)
		if len(lists.OpenAI) != 0 || len(lists.Ollama) != 0 || *calls != 0 {
			t.Errorf("lists = %+v, calls = %d", lists, *calls)
		}
	})

	t.Run("openai filtered", func(t *testing.T) {
		h, _ := newTestHandler(t, settings.SessionConfig{OpenAIAPIKey: "sk"}, "", nil)
		rec := do(t, h.Routes(), "GET", "/api/models", nil)
		lists := decode[captioning.ModelLists](t, rec)
		if len(lists.OpenAI) != 1 || lists.OpenAI[0] != "gpt-4o" {
			t.Errorf("openai = %v", lists.OpenAI)
		}
	})
}

func TestSessionLifecycle(t *testing.T) {
	h, _ := newTestHandler(t, settings.SessionConfig{}, "", nil)
	mux := h.Routes()

	rec := do(t, mux, "POST", "/api/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	view := decode[models.SessionView](t, rec)
	if view.Selected != models.NoSelection {
		t.Errorf("new session selected = %d", view.Selected)
	}

	rec = do(t, mux, "GET", "/api/sessions", nil)
	if list := decode[[]sessionSummary](t, rec); len(list) != 1 || list[0].ID != view.ID {
		t.Errorf("sessions = %+v", list)
	}

	if rec = do(t, mux, "DELETE", "/api/sessions/"+view.ID, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec = do(t, mux, "GET", "/api/sessions/"+view.ID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

// blockingBackend holds every call until release is closed
type blockingBackend struct {
	started chan struct{}
	release chan struct{}
	ctxErr  chan error
	reply   string
}

func newBlockingBackend(reply string) *blockingBackend {
	return &blockingBackend{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
		reply:   reply,
	}
}

func (b *blockingBackend) Complete(ctx context.Context, config providers.Config) (string, error) {
	b.started <- struct{}{}
	<-b.release
	b.ctxErr <- ctx.Err()
	return b.reply, nil
}

func (b *blockingBackend) Interrogate(ctx context.Context, image []byte, config providers.Config) (string, error) {
	return b.Complete(ctx, config)
}

func (b *blockingBackend) ListModels(ctx context.Context) ([]string, error) {
	return nil, nil
}

func withBackend(h *Handler, backend captioning.Backend) {
	h.captioningService = &captioning.Service{
		NewBackend: func(provider string, cfg settings.SessionConfig) captioning.Backend {
			return backend
		},
	}
}

func TestActionResultFollowsRecordAfterDelete(t *testing.T) {
	h, _ := newTestHandler(t, settings.SessionConfig{GroqAPIKey: "gsk"}, "", nil)
	backend := newBlockingBackend("enhanced")
	withBackend(h, backend)
	mux := h.Routes()
	session := seedSession(h, "cap-a", "cap-b", "cap-c")
	session.SelectAt(1)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- do(t, mux, "POST", "/api/sessions/"+session.ID+"/actions/enhance", nil)
	}()

	<-backend.started
	if rec := do(t, mux, "DELETE", "/api/sessions/"+session.ID+"/images/0", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	close(backend.release)

	rec := <-done
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp := decode[map[string]any](t, rec); resp["index"] != float64(0) {
		t.Errorf("index = %v, want 0", resp["index"])
	}

	records := session.Records()
	if records[0].Name != "b.jpg" || records[0].Caption != "enhanced" {
		t.Errorf("b.jpg = %+v", records[0])
	}
	if records[1].Name != "c.jpg" || records[1].Caption != "cap-c" {
		t.Errorf("c.jpg overwritten: %+v", records[1])
	}
}

func TestActionResultDroppedWhenRecordDeleted(t *testing.T) {
	h, _ := newTestHandler(t, settings.SessionConfig{GroqAPIKey: "gsk"}, "", nil)
	backend := newBlockingBackend("enhanced")
	withBackend(h, backend)
	mux := h.Routes()
	session := seedSession(h, "cap-a", "cap-b")

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- do(t, mux, "POST", "/api/sessions/"+session.ID+"/actions/enhance", nil)
	}()

	<-backend.started
	do(t, mux, "DELETE", "/api/sessions/"+session.ID+"/images/0", nil)
	close(backend.release)

	rec := <-done
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if resp := decode[errorResponse](t, rec); resp.Code != "RECORD_REMOVED" {
		t.Errorf("code = %q", resp.Code)
	}
	if records := session.Records(); len(records) != 1 || records[0].Caption != "cap-b" {
		t.Errorf("remaining records = %+v", records)
	}
}

func TestActionSurvivesClientDisconnect(t *testing.T) {
	h, _ := newTestHandler(t, settings.SessionConfig{GroqAPIKey: "gsk"}, "", nil)
	backend := newBlockingBackend("enhanced")
	withBackend(h, backend)
	session := seedSession(h, "cap-a")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("POST", "/api/sessions/"+session.ID+"/actions/enhance", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.Routes().ServeHTTP(rec, req)
		close(done)
	}()

	<-backend.started
	cancel()
	close(backend.release)
	<-done

	if err := <-backend.ctxErr; err != nil {
		t.Errorf("backend context cancelled: %v", err)
	}
	if r, _ := session.Record(0); r.Caption != "enhanced" {
		t.Errorf("caption = %q, want enhanced", r.Caption)
	}
}
