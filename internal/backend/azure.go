package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"cloudsync/internal/syncer"
)

// AzureBackend stores objects as block blobs in one container. The content
// hash and logical modification time are kept as blob metadata.
type AzureBackend struct {
	client    *azblob.Client
	container string
}

// NewAzureBackend creates an Azure Blob backend from a storage account
// connection string.
func NewAzureBackend(connectionString, container string) (*AzureBackend, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("azure backend requires a connection string")
	}
	if container == "" {
		return nil, fmt.Errorf("azure backend requires azure_container to be set")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure client: %w", err)
	}
	return &AzureBackend{client: client, container: container}, nil
}

func (b *AzureBackend) Kind() syncer.BackendKind { return syncer.BackendAzureBlob }

func (b *AzureBackend) Upload(ctx context.Context, req syncer.UploadRequest) (*syncer.UploadResult, error) {
	modified := uploadTime(req.ModifiedAt)
	body := newHashingReader(req.Body)

	opts := &azblob.UploadStreamOptions{
		Metadata: map[string]*string{
			metaSHA256: stringPtr(req.ContentHash),
			metaMTime:  stringPtr(formatMTime(modified)),
		},
	}
	if req.ContentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: stringPtr(req.ContentType)}
	}

	if _, err := b.client.UploadStream(ctx, b.container, req.Path, body, opts); err != nil {
		return nil, b.wrap("upload", err)
	}

	return &syncer.UploadResult{
		ExternalID: req.Path,
		Hash:       body.Sum(),
		ModifiedAt: modified,
	}, nil
}

func (b *AzureBackend) blobClient(name string) *blob.Client {
	return b.client.ServiceClient().NewContainerClient(b.container).NewBlobClient(name)
}

func (b *AzureBackend) FetchState(ctx context.Context, externalID string) (*syncer.RemoteState, error) {
	props, err := b.blobClient(externalID).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return &syncer.RemoteState{Exists: false}, nil
		}
		return nil, b.wrap("fetch state", err)
	}

	var lastModified time.Time
	if props.LastModified != nil {
		lastModified = *props.LastModified
	}
	state := &syncer.RemoteState{
		Exists:     true,
		Hash:       metadataValue(props.Metadata, metaSHA256),
		ModifiedAt: parseMTime(metadataValue(props.Metadata, metaMTime), lastModified),
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

func (b *AzureBackend) Open(ctx context.Context, externalID string) (io.ReadCloser, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, externalID, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, syncer.PermanentError(syncer.BackendAzureBlob, "open", fmt.Errorf("object not found: %s", externalID))
		}
		return nil, b.wrap("open", err)
	}
	return resp.Body, nil
}

func (b *AzureBackend) Delete(ctx context.Context, externalID string) (bool, error) {
	if _, err := b.client.DeleteBlob(ctx, b.container, externalID, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, b.wrap("delete", err)
	}
	return true, nil
}

func (b *AzureBackend) ValidateSetup(ctx context.Context) error {
	_, err := b.client.ServiceClient().NewContainerClient(b.container).GetProperties(ctx, nil)
	if err != nil {
		return fmt.Errorf("container %s not accessible: %w", b.container, b.wrap("validate", err))
	}
	return nil
}

func (b *AzureBackend) wrap(op string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return classifyStatus(syncer.BackendAzureBlob, op, respErr.StatusCode, err)
	}
	return classify(syncer.BackendAzureBlob, op, err)
}

// metadataValue looks a key up case-insensitively; the service may return
// metadata names in canonical header case.
func metadataValue(md map[string]*string, key string) string {
	for k, v := range md {
		if strings.EqualFold(k, key) && v != nil {
			return *v
		}
	}
	return ""
}

func stringPtr(s string) *string { return &s }

// Compile-time check that AzureBackend implements syncer.Backend interface
var _ syncer.Backend = (*AzureBackend)(nil)
