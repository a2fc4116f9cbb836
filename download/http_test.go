package download

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rillfs/rill/cachemgr"
	"github.com/rillfs/rill/oid"
)

// bufferSink collects delivered bytes and counts resets.
type bufferSink struct {
	buf    bytes.Buffer
	resets int
}

func (s *bufferSink) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

func (s *bufferSink) Reset() error {
	s.resets++
	s.buf.Reset()
	return nil
}

func zlibCompress(t *testing.T, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstdCompress(t *testing.T, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func serveObjects(t *testing.T, objects map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := objects[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(content)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchZlib(t *testing.T) {
	t.Parallel()

	content := []byte("zlib compressed object payload")
	id := oid.FromBytes(content, oid.SuffixNone)
	srv := serveObjects(t, map[string][]byte{
		"/" + id.CachePath(): zlibCompress(t, content),
	})

	m := NewHTTPManager(srv.URL)
	sink := &bufferSink{}
	err := m.Fetch(&JobInfo{
		Path:         id.CachePath(),
		Sink:         sink,
		Compression:  cachemgr.CompressionZlib,
		ExpectedHash: id,
	})
	require.NoError(t, err)
	assert.Equal(t, content, sink.buf.Bytes())
}

func TestFetchZstd(t *testing.T) {
	t.Parallel()

	content := []byte("zstd compressed object payload")
	id := oid.FromBytes(content, oid.SuffixNone)
	srv := serveObjects(t, map[string][]byte{
		"/" + id.CachePath(): zstdCompress(t, content),
	})

	m := NewHTTPManager(srv.URL)
	sink := &bufferSink{}
	err := m.Fetch(&JobInfo{
		Path:         id.CachePath(),
		Sink:         sink,
		Compression:  cachemgr.CompressionZstd,
		ExpectedHash: id,
	})
	require.NoError(t, err)
	assert.Equal(t, content, sink.buf.Bytes())
}

func TestFetchUncompressed(t *testing.T) {
	t.Parallel()

	content := []byte("raw bytes")
	srv := serveObjects(t, map[string][]byte{"/objects/raw": content})

	m := NewHTTPManager(srv.URL)
	sink := &bufferSink{}
	err := m.Fetch(&JobInfo{
		Path:        "objects/raw",
		Sink:        sink,
		Compression: cachemgr.CompressionNone,
	})
	require.NoError(t, err)
	assert.Equal(t, content, sink.buf.Bytes())
}

func TestFetchNotFound(t *testing.T) {
	t.Parallel()

	srv := serveObjects(t, nil)
	m := NewHTTPManager(srv.URL)

	err := m.Fetch(&JobInfo{
		Path:        "missing",
		Sink:        &bufferSink{},
		Compression: cachemgr.CompressionNone,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchAltPath(t *testing.T) {
	t.Parallel()

	content := []byte("found at the alternative location")
	srv := serveObjects(t, map[string][]byte{"/alt/object": content})

	m := NewHTTPManager(srv.URL)
	sink := &bufferSink{}
	err := m.Fetch(&JobInfo{
		Path:        "primary/object",
		AltPath:     "alt/object",
		Sink:        sink,
		Compression: cachemgr.CompressionNone,
	})
	require.NoError(t, err)
	assert.Equal(t, content, sink.buf.Bytes())
}

func TestFetchHashMismatch(t *testing.T) {
	t.Parallel()

	expected := oid.FromBytes([]byte("what we asked for"), oid.SuffixNone)
	srv := serveObjects(t, map[string][]byte{
		"/" + expected.CachePath(): []byte("what we got instead"),
	})

	m := NewHTTPManager(srv.URL)
	err := m.Fetch(&JobInfo{
		Path:         expected.CachePath(),
		Sink:         &bufferSink{},
		Compression:  cachemgr.CompressionNone,
		ExpectedHash: expected,
	})
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestFetchCorruptPayload(t *testing.T) {
	t.Parallel()

	srv := serveObjects(t, map[string][]byte{"/obj": []byte("this is not zlib")})
	m := NewHTTPManager(srv.URL)

	err := m.Fetch(&JobInfo{
		Path:        "obj",
		Sink:        &bufferSink{},
		Compression: cachemgr.CompressionZlib,
	})
	assert.ErrorIs(t, err, ErrBadData)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	content := []byte("eventually delivered")
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// First attempt fails with a server error.
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(content)
	}))
	t.Cleanup(srv.Close)

	m := NewHTTPManager(srv.URL, WithRetries(2))
	sink := &bufferSink{}
	err := m.Fetch(&JobInfo{
		Path:        "obj",
		Sink:        sink,
		Compression: cachemgr.CompressionNone,
	})
	require.NoError(t, err)
	assert.Equal(t, content, sink.buf.Bytes())
	assert.Equal(t, 1, sink.resets, "the sink is reset before the retry")
	assert.Equal(t, int64(2), calls.Load())
}

func TestFetchNoRetryOnIntegrityFailure(t *testing.T) {
	t.Parallel()

	expected := oid.FromBytes([]byte("good"), oid.SuffixNone)
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("evil"))
	}))
	t.Cleanup(srv.Close)

	m := NewHTTPManager(srv.URL, WithRetries(3))
	err := m.Fetch(&JobInfo{
		Path:         "obj",
		Sink:         &bufferSink{},
		Compression:  cachemgr.CompressionNone,
		ExpectedHash: expected,
	})
	assert.ErrorIs(t, err, ErrHashMismatch)
	assert.Equal(t, int64(1), calls.Load(), "integrity failures are not retried")
}

func TestFetchSetsHeaders(t *testing.T) {
	t.Parallel()

	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	m := NewHTTPManager(srv.URL, WithHeader("Authorization", "Bearer token"))
	err := m.Fetch(&JobInfo{
		Path:        "obj",
		Sink:        &bufferSink{},
		Compression: cachemgr.CompressionNone,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer token", <-gotAuth)
}
