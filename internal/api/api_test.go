package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"task-assistant/internal/api"
	"task-assistant/internal/model"
	"task-assistant/internal/repository"
	"task-assistant/internal/service"
	"task-assistant/internal/storage"
)

// --- Test doubles ---

type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Complete(context.Context, string, string) (string, error) {
	return f.reply, f.err
}

func newTestServer(t *testing.T, completer *fakeCompleter) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	db, err := repository.NewDB(repository.DriverSQLite, filepath.Join(dir, "tasks.db"), nil)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	store, err := storage.NewFSStore(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tasks := service.NewTaskService(repository.NewTaskRepository(db), store, logger)
	attachments := service.NewAttachmentService(repository.NewAttachmentRepository(db), store, 64, logger)
	ingestion := service.NewIngestionService(completer, tasks, logger)

	srv := httptest.NewServer(api.New(tasks, attachments, ingestion, logger))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func upload(t *testing.T, url, filename string, content []byte) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(content)
	mw.Close()

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

// --- Tests ---

func TestTaskCRUD(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{})

	resp, body := doJSON(t, "POST", srv.URL+"/tasks/", map[string]any{"title": "Buy milk", "tags": "home"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	created := decode[map[string]any](t, body)
	for _, key := range []string{"id", "title", "description", "type", "status", "priority", "tags", "created_at", "updated_at", "completed_at", "attachments"} {
		if _, ok := created[key]; !ok {
			t.Errorf("task JSON missing %q: %s", key, body)
		}
	}
	if created["status"] != "pending" || created["priority"] != "normal" || created["type"] != "knowledge" || created["completed_at"] != nil {
		t.Errorf("created = %v", created)
	}
	id := int(created["id"].(float64))
	taskURL := fmt.Sprintf("%s/tasks/%d", srv.URL, id)

	resp, body = doJSON(t, "PUT", taskURL, map[string]any{"status": "completed", "title": nil})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d: %s", resp.StatusCode, body)
	}
	updated := decode[model.Task](t, body)
	if updated.Status != model.StatusCompleted || updated.CompletedAt == nil || updated.Title != "Buy milk" {
		t.Errorf("updated = %+v", updated)
	}

	resp, body = doJSON(t, "GET", taskURL, nil)
	if resp.StatusCode != http.StatusOK || decode[model.Task](t, body).Tags != "home" {
		t.Errorf("get = %d: %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, "DELETE", taskURL, nil)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != `{"ok":true}` {
		t.Errorf("delete = %d: %s", resp.StatusCode, body)
	}
	for _, method := range []string{"GET", "PUT", "DELETE"} {
		resp, body = doJSON(t, method, taskURL, map[string]any{})
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s after delete = %d: %s", method, resp.StatusCode, body)
		}
	}
}

func TestTaskCreateValidation(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{})

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing title", `{"description":"x"}`, "title"},
		{"bad priority", `{"title":"x","priority":"asap"}`, "priority"},
		{"bad json", `{"title":`, "invalid JSON"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/tasks", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()
			data, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d: %s", resp.StatusCode, data)
			}
			if msg := decode[map[string]string](t, data)["error"]; !strings.Contains(msg, tc.want) {
				t.Errorf("error = %q, want mention of %q", msg, tc.want)
			}
		})
	}
}

func TestTaskListQuery(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{})

	for _, title := range []string{"alpha", "beta", "gamma", "delta"} {
		resp, body := doJSON(t, "POST", srv.URL+"/tasks/", map[string]any{"title": title})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("create: %d %s", resp.StatusCode, body)
		}
	}
	doJSON(t, "PUT", srv.URL+"/tasks/2", map[string]any{"status": "paused"})

	cases := []struct {
		query string
		want  []string
	}{
		{"", []string{"alpha", "beta", "gamma", "delta"}},
		{"?skip=1&limit=2", []string{"beta", "gamma"}},
		{"?q=ELT", []string{"delta"}},
		{"?status=paused,completed", []string{"beta"}},
	}
	for _, tc := range cases {
		for _, path := range []string{"/tasks/", "/tasks"} {
			resp, body := doJSON(t, "GET", srv.URL+path+tc.query, nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("GET %s%s = %d: %s", path, tc.query, resp.StatusCode, body)
			}
			var got []string
			for _, task := range decode[[]model.Task](t, body) {
				got = append(got, task.Title)
			}
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Errorf("GET %s%s = %v, want %v", path, tc.query, got, tc.want)
			}
		}
	}

	for _, q := range []string{"?skip=-1", "?limit=abc", "?status=archived", "?created_from=yesterday"} {
		resp, body := doJSON(t, "GET", srv.URL+"/tasks/"+q, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %s = %d: %s", q, resp.StatusCode, body)
		}
	}

	resp, body := doJSON(t, "GET", srv.URL+"/tasks/?q=nothing-matches", nil)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("empty list = %d %s", resp.StatusCode, body)
	}
}

func TestInvalidID(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{})
	for _, path := range []string{"/tasks/abc", "/tasks/0", "/attachments/-1/download"} {
		resp, body := doJSON(t, "GET", srv.URL+path, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %s = %d: %s", path, resp.StatusCode, body)
		}
	}
}

func TestAttachmentRoundTrip(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{})

	_, body := doJSON(t, "POST", srv.URL+"/tasks/", map[string]any{"title": "with file"})
	task := decode[model.Task](t, body)
	content := []byte("line one\nline two\x00")

	resp, body := upload(t, fmt.Sprintf("%s/tasks/%d/attachments/", srv.URL, task.ID), "notes v1.txt", content)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload = %d: %s", resp.StatusCode, body)
	}
	up := decode[struct {
		Filename string `json:"filename"`
		ID       uint   `json:"id"`
	}](t, body)
	if up.Filename != "notes v1.txt" || up.ID == 0 {
		t.Errorf("upload response = %s", body)
	}

	dl, err := http.Get(fmt.Sprintf("%s/attachments/%d/download", srv.URL, up.ID))
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	got, _ := io.ReadAll(dl.Body)
	dl.Body.Close()
	if dl.StatusCode != http.StatusOK || !bytes.Equal(got, content) {
		t.Errorf("download = %d %q", dl.StatusCode, got)
	}
	if cd := dl.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="notes v1.txt"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}

	_, body = doJSON(t, "GET", fmt.Sprintf("%s/tasks/%d", srv.URL, task.ID), nil)
	withAtt := decode[map[string]any](t, body)
	atts := withAtt["attachments"].([]any)
	if len(atts) != 1 {
		t.Fatalf("attachments = %v", atts)
	}
	for _, key := range []string{"id", "filename", "filepath", "filetype", "uploaded_at"} {
		if _, ok := atts[0].(map[string]any)[key]; !ok {
			t.Errorf("attachment JSON missing %q", key)
		}
	}

	resp, body = doJSON(t, "GET", fmt.Sprintf("%s/tasks/%d/attachments", srv.URL, task.ID), nil)
	if resp.StatusCode != http.StatusOK || len(decode[[]model.Attachment](t, body)) != 1 {
		t.Errorf("list attachments = %d %s", resp.StatusCode, body)
	}

	attURL := fmt.Sprintf("%s/attachments/%d", srv.URL, up.ID)
	if resp, body := doJSON(t, "DELETE", attURL, nil); resp.StatusCode != http.StatusOK {
		t.Errorf("delete = %d: %s", resp.StatusCode, body)
	}
	if resp, _ := doJSON(t, "DELETE", attURL, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete = %d", resp.StatusCode)
	}
	if resp, _ := doJSON(t, "GET", attURL+"/download", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("download after delete = %d", resp.StatusCode)
	}
}

func TestAttachmentUploadErrors(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{})

	resp, body := upload(t, srv.URL+"/tasks/99/attachments/", "a.txt", []byte("a"))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("upload to missing task = %d: %s", resp.StatusCode, body)
	}

	_, body = doJSON(t, "POST", srv.URL+"/tasks/", map[string]any{"title": "t"})
	task := decode[model.Task](t, body)
	url := fmt.Sprintf("%s/tasks/%d/attachments/", srv.URL, task.ID)

	resp, body = upload(t, url, "big.bin", make([]byte, 65))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("oversized upload = %d: %s", resp.StatusCode, body)
	}

	truncated := "--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"a.txt\"\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"hello"
	resp3, err := http.Post(url, "multipart/form-data; boundary=XYZ", strings.NewReader(truncated))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	data, _ := io.ReadAll(resp3.Body)
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest || !strings.Contains(string(data), "invalid multipart body") {
		t.Errorf("upload without closing boundary = %d: %s", resp3.StatusCode, data)
	}

	resp2, err := http.Post(url, "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("non-multipart upload = %d", resp2.StatusCode)
	}
}

func TestGenerateTasks(t *testing.T) {
	completer := &fakeCompleter{reply: `[{"title":"A","description":"d1"},{"title":"B","description":"d2"}]`}
	srv := newTestServer(t, completer)

	resp, body := doJSON(t, "POST", srv.URL+"/ai_generate_tasks/", map[string]string{"prompt": "organise the move"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	out := decode[struct {
		Tasks []struct {
			ID          uint   `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"tasks"`
		Failed []service.FailedDraft `json:"failed"`
	}](t, body)
	if len(out.Tasks) != 2 || out.Tasks[0].Title != "A" || out.Tasks[1].Description != "d2" || len(out.Failed) != 0 {
		t.Errorf("response = %s", body)
	}

	_, body = doJSON(t, "GET", srv.URL+"/tasks/?type=knowledge", nil)
	if n := len(decode[[]model.Task](t, body)); n != 2 {
		t.Errorf("knowledge tasks = %d, want 2", n)
	}

	completer.reply = "not json at all"
	resp, body = doJSON(t, "POST", srv.URL+"/ai_generate_tasks", map[string]string{"prompt": "again"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("malformed status = %d: %s", resp.StatusCode, body)
	}
	if kind := decode[map[string]string](t, body)["kind"]; kind != "external_service" {
		t.Errorf("kind = %q", kind)
	}

	completer.err = errors.New("dial tcp: connection refused")
	resp, body = doJSON(t, "POST", srv.URL+"/ai_generate_tasks/", map[string]string{"prompt": "again"})
	if resp.StatusCode != http.StatusInternalServerError || !strings.Contains(string(body), "connection refused") {
		t.Errorf("upstream failure = %d: %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, "POST", srv.URL+"/ai_generate_tasks/", map[string]string{"prompt": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty prompt = %d", resp.StatusCode)
	}

	_, body = doJSON(t, "GET", srv.URL+"/tasks/", nil)
	if n := len(decode[[]model.Task](t, body)); n != 2 {
		t.Errorf("tasks after failures = %d, want 2", n)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeCompleter{})
	resp, body := doJSON(t, "GET", srv.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}
}
