package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/svdag/blobstore"
)

type mockClient struct {
	mock.Mock
}

func out[T any](args mock.Arguments) (*T, error) {
	v, _ := args.Get(0).(*T)
	return v, args.Error(1)
}

func (m *mockClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return out[s3.PutObjectOutput](m.Called(ctx, in))
}

func (m *mockClient) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return out[s3.UploadPartOutput](m.Called(ctx, in))
}

func (m *mockClient) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return out[s3.CreateMultipartUploadOutput](m.Called(ctx, in))
}

func (m *mockClient) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return out[s3.CompleteMultipartUploadOutput](m.Called(ctx, in))
}

func (m *mockClient) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return out[s3.AbortMultipartUploadOutput](m.Called(ctx, in))
}

func (m *mockClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return out[s3.HeadObjectOutput](m.Called(ctx, in))
}

func (m *mockClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return out[s3.ListObjectsV2Output](m.Called(ctx, in))
}

func (m *mockClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return out[s3.GetObjectOutput](m.Called(ctx, in))
}

func (m *mockClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return out[s3.DeleteObjectOutput](m.Called(ctx, in))
}

func body(s string) io.ReadCloser { return io.NopCloser(strings.NewReader(s)) }

func TestStore_Open(t *testing.T) {
	c := new(mockClient)
	store := NewStore(c, "voxels", "scenes/")

	c.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return *in.Bucket == "voxels" && *in.Key == "scenes/missing.svds"
	})).Return(nil, &types.NotFound{}).Once()
	_, err := store.Open(t.Context(), "missing.svds")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	c.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return *in.Key == "scenes/terrain.svds"
	})).Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(100), ETag: aws.String(`"v1"`)}, nil).Once()
	b, err := store.Open(t.Context(), "terrain.svds")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Size())
	assert.Implements(t, (*blobstore.Mappable)(nil), b)

	_, err = store.Open(t.Context(), "../outside")
	require.ErrorIs(t, err, blobstore.ErrInvalidName)
	c.AssertExpectations(t)
}

func TestObject_ReadAtPinsETag(t *testing.T) {
	c := new(mockClient)
	o := &object{client: c, bucket: "b", key: "k", etag: `"v1"`, size: 10}

	c.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Range == "bytes=0-4" && aws.ToString(in.IfMatch) == `"v1"`
	})).Return(&s3.GetObjectOutput{Body: body("hello")}, nil).Once()

	buf := make([]byte, 5)
	n, err := o.ReadAt(t.Context(), buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	c.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Range == "bytes=8-9"
	})).Return(&s3.GetObjectOutput{Body: body("ld")}, nil).Once()

	n, err = o.ReadAt(t.Context(), buf, 8)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "ld", string(buf[:n]))

	_, err = o.ReadAt(t.Context(), buf, 10)
	require.ErrorIs(t, err, io.EOF)

	c.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Range == "bytes=2-6"
	})).Return(nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}).Once()
	_, err = o.ReadAt(t.Context(), buf, 2)
	require.ErrorIs(t, err, ErrChanged)
	c.AssertExpectations(t)
}

func TestObject_ReadAllUsesOneGet(t *testing.T) {
	c := new(mockClient)
	o := &object{client: c, bucket: "b", key: "k", etag: `"v1"`, size: 11}

	c.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return in.Range == nil && aws.ToString(in.IfMatch) == `"v1"`
	})).Return(&s3.GetObjectOutput{Body: body("hello world")}, nil).Once()

	data, err := blobstore.ReadAll(t.Context(), o)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	buf := make([]byte, 5)
	n, err := o.ReadAt(t.Context(), buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]), "served from the fetched body")
	c.AssertExpectations(t)
}

func TestStore_Delete(t *testing.T) {
	c := new(mockClient)
	store := NewStore(c, "voxels", "scenes")

	c.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return *in.Key == "scenes/old.svds"
	})).Return(&s3.DeleteObjectOutput{}, nil).Once()
	c.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return *in.Key == "scenes/gone.svds"
	})).Return(nil, &types.NoSuchKey{}).Once()

	require.NoError(t, store.Delete(t.Context(), "old.svds"))
	require.NoError(t, store.Delete(t.Context(), "gone.svds"))
	c.AssertExpectations(t)
}

func TestStore_ListPaginates(t *testing.T) {
	c := new(mockClient)
	store := NewStore(c, "voxels", "scenes/")

	c.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return *in.Prefix == "scenes" && in.ContinuationToken == nil
	})).Return(&s3.ListObjectsV2Output{
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("next"),
		Contents:              []types.Object{{Key: aws.String("scenes/terrain/v2.svds")}},
	}, nil).Once()
	c.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "next"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{{Key: aws.String("scenes/city.svds")}},
	}, nil).Once()

	names, err := store.List(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"city.svds", "terrain/v2.svds"}, names)

	c.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return *in.Prefix == "scenes/terrain/"
	})).Return(&s3.ListObjectsV2Output{}, nil).Once()
	_, err = store.List(t.Context(), "terrain/")
	require.NoError(t, err)
	c.AssertExpectations(t)
}

func TestStore_PutSmall(t *testing.T) {
	c := new(mockClient)
	store := NewStore(c, "voxels", "scenes")

	data := []byte("SVDS....")
	c.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Key == "scenes/a.svds" &&
			aws.ToString(in.ChecksumCRC32C) == checksumCRC32C(data) &&
			aws.ToString(in.ContentType) == blobstore.ContentType &&
			aws.ToInt64(in.ContentLength) == int64(len(data))
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	require.NoError(t, store.Put(t.Context(), "a.svds", data))
	c.AssertExpectations(t)
}

func TestStore_CreateStreams(t *testing.T) {
	c := new(mockClient)
	store := NewStore(c, "voxels", "scenes")

	var got []byte
	c.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Key == "scenes/new.svds" && in.ChecksumAlgorithm == types.ChecksumAlgorithmCrc32c
	})).Run(func(args mock.Arguments) {
		got, _ = io.ReadAll(args.Get(1).(*s3.PutObjectInput).Body)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	w, err := store.Create(t.Context(), "new.svds")
	require.NoError(t, err)
	_, err = w.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, "content", string(got))

	_, err = w.Write([]byte("late"))
	require.ErrorIs(t, err, blobstore.ErrClosed)
	require.ErrorIs(t, w.Close(), blobstore.ErrClosed)
	require.NoError(t, w.Abort())
	c.AssertExpectations(t)
}

func TestChecksumCRC32C(t *testing.T) {
	// CRC32C("123456789") = 0xE3069283
	assert.Equal(t, "4waSgw==", checksumCRC32C([]byte("123456789")))
}
