package objstore

import (
	"context"
	"errors"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// AzureBlob implements Store against an Azure Blob Storage container.
type AzureBlob struct {
	client    *azblob.Client
	container string
}

// NewAzureBlob creates an AzureBlob-backed Store for the given account URL and container.
func NewAzureBlob(accountURL, containerName string, cred azcore.TokenCredential) (*AzureBlob, error) {
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, err
	}
	return &AzureBlob{client: client, container: containerName}, nil
}

func (a *AzureBlob) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (a *AzureBlob) Put(ctx context.Context, key string, data []byte) error {
	_, err := a.client.UploadBuffer(ctx, a.container, key, data, nil)
	return err
}

func (a *AzureBlob) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	cond := blobAccessConditions(false, "")
	_, err := a.client.UploadBuffer(ctx, a.container, key, data, &azblob.UploadBufferOptions{
		AccessConditions: &cond,
	})
	if err != nil && bloberror.HasCode(err, bloberror.ConditionNotMet, bloberror.BlobAlreadyExists) {
		return ErrAlreadyExists
	}
	return err
}

func (a *AzureBlob) PutIfMatch(ctx context.Context, key string, data []byte, etag string) (string, error) {
	cond := blobAccessConditions(etag != "", etag)
	resp, err := a.client.UploadBuffer(ctx, a.container, key, data, &azblob.UploadBufferOptions{
		AccessConditions: &cond,
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.ConditionNotMet, bloberror.BlobAlreadyExists) {
			return "", ErrPrecondition
		}
		return "", err
	}
	if resp.ETag != nil {
		return string(*resp.ETag), nil
	}
	return "", nil
}

func blobAccessConditions(matchEtag bool, etag string) azblob.AccessConditions {
	if !matchEtag {
		return azblob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETag("*"))},
		}
	}
	return azblob.AccessConditions{
		ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: to.Ptr(azcore.ETag(etag))},
	}
}

func (a *AzureBlob) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteBlob(ctx, a.container, key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return err
	}
	return nil
}

func (a *AzureBlob) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.Head(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (a *AzureBlob) Head(ctx context.Context, key string) (ObjectMetadata, error) {
	props, err := a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return ObjectMetadata{}, ErrNotFound
		}
		return ObjectMetadata{}, err
	}
	meta := ObjectMetadata{Key: key}
	if props.ContentLength != nil {
		meta.Size = *props.ContentLength
	}
	if props.ETag != nil {
		meta.ETag = string(*props.ETag)
	}
	if props.LastModified != nil {
		meta.LastModified = *props.LastModified
	}
	return meta, nil
}

func (a *AzureBlob) List(ctx context.Context, prefix string) (Lister, error) {
	pager := a.client.ServiceClient().NewContainerClient(a.container).NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	return &azureLister{ctx: ctx, pager: pager}, nil
}

type azureLister struct {
	ctx   context.Context
	pager *runtime.Pager[container.ListBlobsFlatResponse]
	page  []string
	pos   int
}

func (l *azureLister) Next() (string, error) {
	for l.pos >= len(l.page) {
		if !l.pager.More() {
			return "", io.EOF
		}
		resp, err := l.pager.NextPage(l.ctx)
		if err != nil {
			return "", err
		}
		l.page = l.page[:0]
		for _, item := range resp.Segment.BlobItems {
			if item.Name != nil {
				l.page = append(l.page, *item.Name)
			}
		}
		l.pos = 0
	}
	key := l.page[l.pos]
	l.pos++
	return key, nil
}
