package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"cloudsync/internal/syncer"
)

// appPropertyPath tags Drive files with their object path so that retried
// uploads update the same file instead of creating a sibling with the same name.
const appPropertyPath = "cloudsync_path"

const driveFileFields = "id, modifiedTime, sha256Checksum, trashed"

// DriveBackend stores objects as files in a Google Drive folder. Drive keeps
// a native SHA-256 checksum and modification time for every file.
type DriveBackend struct {
	svc      *drive.Service
	folderID string
}

// NewDriveBackend creates a Drive backend authorized by ts. Files are created
// in folderID, or in the root of My Drive when it is empty.
func NewDriveBackend(ctx context.Context, ts oauth2.TokenSource, folderID string) (*DriveBackend, error) {
	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return &DriveBackend{svc: svc, folderID: folderID}, nil
}

func (b *DriveBackend) Kind() syncer.BackendKind { return syncer.BackendGoogleDrive }

func (b *DriveBackend) Upload(ctx context.Context, req syncer.UploadRequest) (*syncer.UploadResult, error) {
	modified := uploadTime(req.ModifiedAt)
	body := newHashingReader(req.Body)

	existingID, err := b.findByPath(ctx, req.Path)
	if err != nil {
		return nil, err
	}

	meta := &drive.File{
		ModifiedTime: modified.Format(time.RFC3339Nano),
		AppProperties: map[string]string{
			appPropertyPath: req.Path,
			metaSHA256:      req.ContentHash,
		},
	}
	if req.ContentType != "" {
		meta.MimeType = req.ContentType
	}

	var f *drive.File
	if existingID != "" {
		f, err = b.svc.Files.Update(existingID, meta).
			Media(body).
			Fields(driveFileFields).
			Context(ctx).
			Do()
	} else {
		meta.Name = path.Base(req.Path)
		if b.folderID != "" {
			meta.Parents = []string{b.folderID}
		}
		f, err = b.svc.Files.Create(meta).
			Media(body).
			Fields(driveFileFields).
			Context(ctx).
			Do()
	}
	if err != nil {
		return nil, b.wrap("upload", err)
	}

	hash := f.Sha256Checksum
	if hash == "" {
		hash = body.Sum()
	}
	return &syncer.UploadResult{
		ExternalID: f.Id,
		Hash:       hash,
		ModifiedAt: parseMTime(f.ModifiedTime, modified),
	}, nil
}

// findByPath returns the id of the live file tagged with objectPath, if any.
func (b *DriveBackend) findByPath(ctx context.Context, objectPath string) (string, error) {
	q := fmt.Sprintf("appProperties has { key='%s' and value='%s' } and trashed = false",
		appPropertyPath, escapeDriveQuery(objectPath))
	list, err := b.svc.Files.List().
		Q(q).
		Fields("files(id)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", b.wrap("lookup", err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func (b *DriveBackend) FetchState(ctx context.Context, externalID string) (*syncer.RemoteState, error) {
	f, err := b.svc.Files.Get(externalID).
		Fields(driveFileFields).
		Context(ctx).
		Do()
	if err != nil {
		if isDriveNotFound(err) {
			return &syncer.RemoteState{Exists: false}, nil
		}
		return nil, b.wrap("fetch state", err)
	}
	if f.Trashed {
		return &syncer.RemoteState{Exists: false}, nil
	}

	state := &syncer.RemoteState{
		Exists:     true,
		Hash:       f.Sha256Checksum,
		ModifiedAt: parseMTime(f.ModifiedTime, time.Time{}),
	}
	if state.Hash == "" {
		rc, err := b.Open(ctx, externalID)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		if state.Hash, err = hashStream(rc); err != nil {
			return nil, b.wrap("fetch state", err)
		}
	}
	return state, nil
}

func (b *DriveBackend) Open(ctx context.Context, externalID string) (io.ReadCloser, error) {
	resp, err := b.svc.Files.Get(externalID).Context(ctx).Download()
	if err != nil {
		if isDriveNotFound(err) {
			return nil, syncer.PermanentError(syncer.BackendGoogleDrive, "open", fmt.Errorf("object not found: %s", externalID))
		}
		return nil, b.wrap("open", err)
	}
	return resp.Body, nil
}

func (b *DriveBackend) Delete(ctx context.Context, externalID string) (bool, error) {
	if err := b.svc.Files.Delete(externalID).Context(ctx).Do(); err != nil {
		if isDriveNotFound(err) {
			return false, nil
		}
		return false, b.wrap("delete", err)
	}
	return true, nil
}

// ValidateSetup checks that the token is accepted and the target folder is reachable.
func (b *DriveBackend) ValidateSetup(ctx context.Context) error {
	if _, err := b.svc.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return fmt.Errorf("drive not accessible: %w", b.wrap("validate", err))
	}
	if b.folderID == "" {
		return nil
	}
	if _, err := b.svc.Files.Get(b.folderID).Fields("id").Context(ctx).Do(); err != nil {
		return fmt.Errorf("drive folder %s not accessible: %w", b.folderID, b.wrap("validate", err))
	}
	return nil
}

func (b *DriveBackend) wrap(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(syncer.BackendGoogleDrive, op, apiErr.Code, err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		// The refresh token was rejected; retrying will not help.
		return syncer.PermanentError(syncer.BackendGoogleDrive, op, err)
	}
	return classify(syncer.BackendGoogleDrive, op, err)
}

func isDriveNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}

func escapeDriveQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// Compile-time check that DriveBackend implements syncer.Backend interface
var _ syncer.Backend = (*DriveBackend)(nil)
