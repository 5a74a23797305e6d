package remotecache

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/thomasjiangcy/pkgrep/pkg/config"
	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
)

// azureBlobStore talks to an Azure Blob container.
type azureBlobStore struct {
	client    *azblob.Client
	container string
}

func newAzureBlobStore(cfg *config.Config) (ObjectStore, error) {
	accountName := firstEnv("PKGREP_AZURE_ACCOUNT_NAME", "AZURE_STORAGE_ACCOUNT")
	accountKey := firstEnv("PKGREP_AZURE_ACCOUNT_KEY", "AZURE_STORAGE_KEY")

	endpoint := cfg.ObjectStore.Endpoint
	if endpoint == "" && accountName != "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	}
	if endpoint == "" {
		return nil, pkgreperrors.New(pkgreperrors.KindBackendRequirement,
			"object_store.endpoint must be set for backend=azure_blob (or provide account name env vars)")
	}

	var client *azblob.Client
	var err error
	if accountName != "" && accountKey != "" {
		credential, credErr := azblob.NewSharedKeyCredential(accountName, accountKey)
		if credErr != nil {
			return nil, pkgreperrors.Wrap(pkgreperrors.KindBackendRequirement, credErr,
				"failed to build Azure shared key credential")
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, credential, nil)
	} else {
		client, err = azblob.NewClientWithNoCredential(endpoint, nil)
	}
	if err != nil {
		return nil, pkgreperrors.Wrap(pkgreperrors.KindBackendRequirement, err,
			"failed to create Azure Blob client for endpoint %s", endpoint)
	}

	return &azureBlobStore{client: client, container: cfg.ObjectStore.Bucket}, nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func (s *azureBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key)
	_, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *azureBlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	response, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	defer response.Body.Close()
	return io.ReadAll(response.Body)
}

func (s *azureBlobStore) Write(ctx context.Context, key string, payload []byte) error {
	_, err := s.client.UploadBuffer(ctx, s.container, key, payload, nil)
	return err
}
