package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriveService stores staged documents in a shared Drive folder.
type DriveService struct {
	service  *drive.Service
	folderID string
}

func NewDriveService(ctx context.Context, credentialsFile, folderID string) (*DriveService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	return &DriveService{service: srv, folderID: folderID}, nil
}

// TestConnection checks that the target folder is reachable.
func (s *DriveService) TestConnection(ctx context.Context) error {
	if _, err := s.service.Files.Get(s.folderID).Fields("id").Context(ctx).Do(); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// Upload stores data under name in the folder and returns the Drive file
// id. A file that already exists under the same name is reused, so a
// replayed upload does not create a second copy.
func (s *DriveService) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	existing, err := s.findFile(ctx, name)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	file := &drive.File{Name: name, MimeType: contentType}
	if s.folderID != "" {
		file.Parents = []string{s.folderID}
	}

	call := s.service.Files.Create(file).Fields("id").Context(ctx)
	if contentType != "" {
		call = call.Media(bytes.NewReader(data), googleapi.ContentType(contentType))
	} else {
		call = call.Media(bytes.NewReader(data))
	}
	created, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return created.Id, nil
}

func (s *DriveService) findFile(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and trashed = false", escapeQuery(name))
	if s.folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(s.folderID))
	}
	list, err := s.service.Files.List().Q(q).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", name, err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func escapeQuery(v string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
}

// IsPermanent reports whether a Drive error cannot be fixed by retrying.
func IsPermanent(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, item := range apiErr.Errors {
		if strings.Contains(item.Reason, "RateLimitExceeded") || item.Reason == "rateLimitExceeded" {
			return false
		}
	}
	switch apiErr.Code {
	case 400, 401, 403, 404:
		return true
	}
	return false
}

// GetServiceAccountEmail returns the client email of a service account key file.
func GetServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}
