package archive

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchive(t *testing.T, bucket string) *S3 {
	t.Helper()
	backend := s3mem.New()
	faker := gofakes3.New(backend)
	ts := httptest.NewServer(faker.Server())
	t.Cleanup(ts.Close)

	require.NoError(t, backend.CreateBucket("subjectfix-test"))

	s, err := New(Options{
		Endpoint:  ts.Listener.Addr().String(),
		Bucket:    bucket,
		AccessKey: "access-key",
		SecretKey: "secret-key",
		Prefix:    "originals/",
	})
	require.NoError(t, err)
	return s
}

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestArchive(t, "subjectfix-test")
	require.NoError(t, s.Check(ctx))

	raw := []byte("Subject: [EXTERN] hi\r\n\r\n\x00\xff body")
	require.NoError(t, s.PutBlob(ctx, "01HX", raw))

	got, err := s.GetBlob(ctx, "01HX")
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	require.NoError(t, s.DeleteBlob(ctx, "01HX"))
	_, err = s.GetBlob(ctx, "01HX")
	assert.ErrorIs(t, err, ErrNoSuchObject)
}

func TestArchiveMissingBucket(t *testing.T) {
	s := newTestArchive(t, "nope")
	assert.Error(t, s.Check(context.Background()))
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{Bucket: "b"})
	assert.Error(t, err)
	_, err = New(Options{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
