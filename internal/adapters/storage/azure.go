package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/jobrunner/tessera/internal/ports/output"
)

// AzureConfig locates archives in a blob container. A connection string
// takes precedence over account name and key.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
	Prefix           string
}

func (c AzureConfig) client() (*azblob.Client, error) {
	switch {
	case c.ConnectionString != "":
		return azblob.NewClientFromConnectionString(c.ConnectionString, nil)
	case c.AccountName == "":
		return nil, errors.New("account name or connection string required")
	}

	cred, err := azblob.NewSharedKeyCredential(c.AccountName, c.AccountKey)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("https://%s.blob.core.windows.net/", c.AccountName)
	return azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
}

// AzureStorage reads archives from an Azure blob container.
type AzureStorage struct {
	client    *azblob.Client
	container string
	prefix    string
}

var _ output.ObjectStorage = (*AzureStorage)(nil)

func NewAzureStorage(cfg AzureConfig) (*AzureStorage, error) {
	client, err := cfg.client()
	if err != nil {
		return nil, storageError("configure", cfg.Container, err)
	}
	return &AzureStorage{client: client, container: cfg.Container, prefix: cfg.Prefix}, nil
}

func (s *AzureStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &s.prefix})

	var objects []output.StorageObject
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, storageError("list", s.container, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil && IsArchive(*item.Name) {
				objects = append(objects, blobObject(item, s.prefix))
			}
		}
	}
	return objects, nil
}

func blobObject(item *container.BlobItem, prefix string) output.StorageObject {
	obj := output.StorageObject{Key: relativeKey(*item.Name, prefix)}
	p := item.Properties
	if p == nil {
		return obj
	}
	if p.ContentLength != nil {
		obj.Size = *p.ContentLength
	}
	if p.LastModified != nil {
		obj.LastModified = p.LastModified.Unix()
	}
	if p.ETag != nil {
		obj.ETag = string(*p.ETag)
	}
	return obj
}

func (s *AzureStorage) Download(ctx context.Context, key string, dest string) error {
	return fetch(ctx, s.GetReader, key, dest)
}

func (s *AzureStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, joinKey(s.prefix, key), nil)
	if err == nil {
		return resp.Body, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		err = notFound(err)
	}
	return nil, storageError("read", key, err)
}

// Exists reads the blob properties. A missing blob or container is not an
// error.
func (s *AzureStorage) Exists(ctx context.Context, key string) (bool, error) {
	blob := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(joinKey(s.prefix, key))
	_, err := blob.GetProperties(ctx, nil)
	switch {
	case err == nil:
		return true, nil
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound):
		return false, nil
	default:
		return false, storageError("stat", key, err)
	}
}
