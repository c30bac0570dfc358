package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/lychee-technology/orcall"
	"github.com/lychee-technology/orcall/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	getErr  error
	headErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

var errMultipart = errors.New("multipart upload not expected")

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errMultipart
}

func sampleCatalogue() *orcall.Catalogue {
	cat := orcall.NewCatalogue()
	cat.AddRecordType(&orcall.RecordType{
		Name:   "ucsimpleintstr",
		Fields: []orcall.Parameter{{Name: "attr_int", Type: "INTEGER"}, {Name: "attr_str", Type: "STRING"}},
	})
	cat.AddProcedure(&orcall.Procedure{
		Name:       "echo_ucarray",
		Parameters: []orcall.Parameter{{Name: "rows", Type: "ucsimpleintstr", Array: true}, {Name: "rowcount", Type: "INTEGER"}},
	})
	return cat
}

func TestStore_Key(t *testing.T) {
	assert.Equal(t, "catalogues/comtest.xml.zst", NewWithClient(newFakeS3(), "b", "/catalogues/").Key("comtest.img"))
	assert.Equal(t, "comtest.xml.zst", NewWithClient(newFakeS3(), "b", "").Key("comtest"))
}

func TestStore_SaveThenLoad(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	store := NewWithClient(client, "snapshots", "catalogues")

	require.NoError(t, store.Save(ctx, "comtest", sampleCatalogue()))
	require.Contains(t, client.objects, "snapshots/catalogues/comtest.xml.zst")
	// zstd frame magic
	assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, client.objects["snapshots/catalogues/comtest.xml.zst"][:4])

	cat, err := store.Load(ctx, "comtest")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo_ucarray"}, cat.ProcedureNames())

	sig, found, err := internal.SignatureForProcedure(cat, "echo_ucarray")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, orcall.FlatSignature{
		"rows":          orcall.TypeRecordArray,
		"rows.attr_int": orcall.TypeInteger,
		"rows.attr_str": orcall.TypeString,
		"rowcount":      orcall.TypeInteger,
	}, sig)
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewWithClient(newFakeS3(), "snapshots", "")
	_, err := store.Load(context.Background(), "comtest")
	assert.ErrorIs(t, err, internal.ErrSnapshotNotFound)
}

func TestStore_LoadAPIErrors(t *testing.T) {
	client := newFakeS3()
	store := NewWithClient(client, "snapshots", "")

	client.getErr = &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}
	_, err := store.Load(context.Background(), "comtest")
	assert.ErrorIs(t, err, internal.ErrSnapshotNotFound)

	client.getErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	_, err = store.Load(context.Background(), "comtest")
	require.Error(t, err)
	assert.NotErrorIs(t, err, internal.ErrSnapshotNotFound)
}

func TestStore_LoadRejectsCorruptObject(t *testing.T) {
	client := newFakeS3()
	client.objects["snapshots/comtest.xml.zst"] = []byte("not zstd")
	store := NewWithClient(client, "snapshots", "")

	_, err := store.Load(context.Background(), "comtest")
	require.Error(t, err)
	assert.NotErrorIs(t, err, internal.ErrSnapshotNotFound)
}

func TestStore_WorksAsCatalogueCacheSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewWithClient(newFakeS3(), "snapshots", "")
	fetches := 0
	fetch := func(context.Context) (*orcall.Catalogue, error) {
		fetches++
		return sampleCatalogue(), nil
	}

	first := internal.NewCatalogueCache("comtest", 0, fetch, store)
	_, err := first.Catalogue(ctx)
	require.NoError(t, err)

	second := internal.NewCatalogueCache("comtest", 0, fetch, store)
	cat, err := second.Catalogue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo_ucarray"}, cat.ProcedureNames())
	assert.Equal(t, 1, fetches)
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), orcall.SnapshotConfig{})
	assert.Error(t, err)
}

func TestStore_Ping(t *testing.T) {
	client := newFakeS3()
	store := NewWithClient(client, "catalogues", "")
	require.NoError(t, store.Ping(context.Background()))

	client.headErr = &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	err := store.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	client.headErr = &smithy.GenericAPIError{Code: "Forbidden", Message: "Forbidden"}
	err = store.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")

	client.headErr = errors.New("dial tcp: connection refused")
	err = store.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "head bucket")
}
