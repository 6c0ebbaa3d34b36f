package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "applications/a1/attachments/b2/bio.pdf", Key("a1", "b2", "../../bio.pdf"))
	assert.Equal(t, "applications/a1/attachments/b2/bio.pdf", Key("a1", "b2", `C:\docs\bio.pdf`))
	assert.Equal(t, "applications/a1/attachments/b2/file", Key("a1", "b2", ""))
	assert.Equal(t, "applications/a1/attachments/b2/file", Key("a1", "b2", ".."))
	assert.Equal(t, "applications/a1/attachments/b2/file", Key("a1", "b2", "docs/.."))
}

func TestLocalStoreDotDotFilenameStaysInAttachmentDir(t *testing.T) {
	dir := t.TempDir()
	s := LocalStore{Dir: dir}
	_, err := s.Put(context.Background(), Key("app1", "att1", ".."), "", strings.NewReader("a"))
	require.NoError(t, err)
	_, err = s.Put(context.Background(), Key("app1", "att2", "bio.pdf"), "", strings.NewReader("b"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "applications", "app1", "attachments", "att1", "file"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestLocalStorePut(t *testing.T) {
	dir := t.TempDir()
	s := LocalStore{Dir: dir, BaseURL: "https://files.example.org/"}
	u, err := s.Put(context.Background(), "../applications/a/x y.pdf", "application/pdf", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.org/applications/a/x%20y.pdf", u)

	data, err := os.ReadFile(filepath.Join(dir, "applications", "a", "x y.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	u, err = LocalStore{Dir: dir}.Put(context.Background(), "k.txt", "", strings.NewReader("x"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "file://"))
}

func TestLocalStoreCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LocalStore{Dir: t.TempDir()}.Put(ctx, "k", "", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

type fakePutter struct {
	in   *s3.PutObjectInput
	body string
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3StorePut(t *testing.T) {
	fp := &fakePutter{}
	s := &S3Store{client: fp, cfg: S3Config{Bucket: "grants", Region: "us-east-1", Endpoint: "http://localhost:9000/"}}
	u, err := s.Put(context.Background(), "applications/a/b.pdf", "application/pdf", strings.NewReader("pdf"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/grants/applications/a/b.pdf", u)
	assert.Equal(t, "grants", aws.ToString(fp.in.Bucket))
	assert.Equal(t, "application/pdf", aws.ToString(fp.in.ContentType))
	assert.Equal(t, "pdf", fp.body)

	s.cfg.Endpoint = ""
	u, err = s.Put(context.Background(), "k", "", strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "https://grants.s3.us-east-1.amazonaws.com/k", u)
	assert.Nil(t, fp.in.ContentType)

	fp.err = errors.New("denied")
	_, err = s.Put(context.Background(), "k", "", strings.NewReader(""))
	assert.ErrorContains(t, err, "denied")
}
