package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type fakeDrive struct {
	mu      sync.Mutex
	files   map[string]string
	creates int
	queries []string
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files"):
		q := r.URL.Query().Get("q")
		f.queries = append(f.queries, q)
		list := drive.FileList{}
		for name, id := range f.files {
			if strings.Contains(q, fmt.Sprintf("name = '%s'", name)) {
				list.Files = append(list.Files, &drive.File{Id: id, Name: name})
			}
		}
		_ = json.NewEncoder(w).Encode(list)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/files"):
		body, _ := io.ReadAll(r.Body)
		f.creates++
		id := fmt.Sprintf("file-%d", f.creates)
		for _, name := range []string{"SCO_100001_id.png", "SCO_100002_payslip.pdf"} {
			if strings.Contains(string(body), name) {
				f.files[name] = id
			}
		}
		_ = json.NewEncoder(w).Encode(drive.File{Id: id})
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files/folder-1"):
		_ = json.NewEncoder(w).Encode(drive.File{Id: "folder-1"})
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
	}
}

func setupMockDrive(ctx context.Context, t *testing.T) (*fakeDrive, *DriveService) {
	t.Helper()
	fake := &fakeDrive{files: map[string]string{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	srv, err := drive.NewService(ctx, option.WithEndpoint(server.URL), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("drive service: %v", err)
	}
	return fake, &DriveService{service: srv, folderID: "folder-1"}
}

func TestDriveService_UploadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fake, s := setupMockDrive(ctx, t)

	id, err := s.Upload(ctx, "SCO_100001_id.png", "image/png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if id != "file-1" {
		t.Errorf("expected file-1, got %s", id)
	}

	again, err := s.Upload(ctx, "SCO_100001_id.png", "image/png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("second Upload failed: %v", err)
	}
	if again != id {
		t.Errorf("expected existing file %s to be reused, got %s", id, again)
	}
	if fake.creates != 1 {
		t.Errorf("expected exactly one create call, got %d", fake.creates)
	}
	if !strings.Contains(fake.queries[0], "'folder-1' in parents") {
		t.Errorf("lookup not scoped to folder: %s", fake.queries[0])
	}
}

func TestDriveService_TestConnection(t *testing.T) {
	ctx := context.Background()
	_, s := setupMockDrive(ctx, t)

	if err := s.TestConnection(ctx); err != nil {
		t.Errorf("TestConnection failed: %v", err)
	}

	s.folderID = "missing"
	if err := s.TestConnection(ctx); err == nil {
		t.Error("expected error for missing folder")
	}
}

func TestEscapeQuery(t *testing.T) {
	got := escapeQuery(`O'Brien\scan.pdf`)
	want := `O\'Brien\\scan.pdf`
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&googleapi.Error{Code: 404}, true},
		{&googleapi.Error{Code: 403}, true},
		{&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, false},
		{&googleapi.Error{Code: 503}, false},
		{fmt.Errorf("upload: %w", &googleapi.Error{Code: 400}), true},
		{io.ErrUnexpectedEOF, false},
	}
	for _, c := range cases {
		if got := IsPermanent(c.err); got != c.want {
			t.Errorf("IsPermanent(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestGetServiceAccountEmail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(path, []byte(`{"client_email": "intake@example.iam.gserviceaccount.com"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	email, err := GetServiceAccountEmail(path)
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if email != "intake@example.iam.gserviceaccount.com" {
		t.Errorf("unexpected email %s", email)
	}

	if _, err = GetServiceAccountEmail("non-existent"); err == nil {
		t.Error("Expected error for non-existent file")
	}
}
