package fetch

import (
	"context"
	"errors"
	"io"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/candlekeep/candlekeep/internal/kberr"
	"github.com/candlekeep/candlekeep/internal/store"
)

// driveExportTypes maps Google Workspace document types to the export MIME
// type we ingest them as. Anything else downloads as stored.
var driveExportTypes = map[string]string{
	"application/vnd.google-apps.document":     "text/markdown",
	"application/vnd.google-apps.presentation": "text/plain",
	"application/vnd.google-apps.spreadsheet":  "text/csv",
}

// DriveFetcher downloads files from Google Drive using a service account.
type DriveFetcher struct {
	service *drive.Service
}

// NewDriveFetcher creates a Drive client from a service account JSON file.
func NewDriveFetcher(ctx context.Context, credentialsFile string) (*DriveFetcher, error) {
	service, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveReadonlyScope),
	)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeSourceAuthDenied, err).
			WithSuggestion("check the drive credentials file and its service account permissions")
	}
	return &DriveFetcher{service: service}, nil
}

// NewDriveFetcherFromJSON creates a Drive client from in-memory service
// account JSON, for deployments that inject credentials through the
// environment instead of a file.
func NewDriveFetcherFromJSON(ctx context.Context, credentialsJSON []byte) (*DriveFetcher, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, drive.DriveReadonlyScope)
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeSourceAuthDenied, err).
			WithSuggestion("check the service account JSON")
	}
	service, err := drive.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeSourceAuthDenied, err)
	}
	return &DriveFetcher{service: service}, nil
}

// Fetch downloads one file by Drive id. Workspace documents are exported to
// a text format; binary files come down as stored.
func (d *DriveFetcher) Fetch(ctx context.Context, fileID string) (*RawSource, error) {
	meta, err := d.service.Files.Get(fileID).
		Fields("name", "mimeType").
		SupportsAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		return nil, classifyDriveError(err, fileID)
	}

	var resp io.ReadCloser
	contentType := meta.MimeType

	if exportType, ok := driveExportTypes[meta.MimeType]; ok {
		r, err := d.service.Files.Export(fileID, exportType).Context(ctx).Download()
		if err != nil {
			return nil, classifyDriveError(err, fileID)
		}
		resp = r.Body
		contentType = exportType
	} else {
		r, err := d.service.Files.Get(fileID).
			SupportsAllDrives(true).
			Context(ctx).Download()
		if err != nil {
			return nil, classifyDriveError(err, fileID)
		}
		resp = r.Body
	}
	defer func() { _ = resp.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp, maxResponseSize))
	if err != nil {
		return nil, kberr.Wrap(kberr.CodeSourceUnreachable, err).WithDetail("file_id", fileID)
	}

	locator := meta.Name
	if locator == "" {
		locator = fileID
	}

	return &RawSource{
		Bytes:       data,
		ContentType: contentType,
		Locator:     locator,
		Kind:        store.SourceKindDriveFile,
	}, nil
}

// Ping verifies the credentials with a minimal about call.
func (d *DriveFetcher) Ping(ctx context.Context) error {
	_, err := d.service.About.Get().Fields("user").Context(ctx).Do()
	if err != nil {
		return classifyDriveError(err, "")
	}
	return nil
}

func classifyDriveError(err error, fileID string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return kberr.Wrap(kberr.CodeSourceAuthDenied, err).
				WithDetail("file_id", fileID).
				WithSuggestion("share the file with the service account email")
		case 404:
			return kberr.Newf(kberr.CodeSourceUnreadable, "drive file not found: %s", fileID)
		}
	}
	if strings.Contains(err.Error(), "credential") {
		return kberr.Wrap(kberr.CodeSourceAuthDenied, err)
	}
	return kberr.Wrap(kberr.CodeSourceUnreachable, err).WithDetail("file_id", fileID)
}
