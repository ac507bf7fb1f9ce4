package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/internal/blob"
)

// initResponse mirrors the upload init response body.
type initResponse struct {
	UploadID    string `json:"uploadId"`
	ChunkSize   int64  `json:"chunkSize"`
	TotalChunks int    `json:"totalChunks"`
}

// uploadBlob drives the chunked upload API end to end and returns the
// completion result.
func uploadBlob(t *testing.T, f *fixture, token string, data []byte) blob.CompleteResult {
	t.Helper()

	w := f.doJSON(t, http.MethodPost, "/api/blobs/upload/init", token, map[string]interface{}{
		"size":     len(data),
		"mimeType": "application/pdf",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var sess initResponse
	decode(t, w, &sess)

	for i := 0; i < sess.TotalChunks; i++ {
		start := int64(i) * sess.ChunkSize
		end := start + sess.ChunkSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		w = f.do(t, http.MethodPut, fmt.Sprintf("/api/blobs/upload/%s/chunk/%d", sess.UploadID, i), token, data[start:end])
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/blobs/upload/"+sess.UploadID+"/complete", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result blob.CompleteResult
	decode(t, w, &result)
	return result
}

func TestBlobUploadAndDownload(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")

	data := []byte("pdf bytes here")
	result := uploadBlob(t, f, alice, data)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), result.Hash)
	assert.False(t, result.Deduplicated)

	w := f.do(t, http.MethodGet, "/api/blobs/"+result.Hash, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())
	assert.Equal(t, `"`+result.Hash+`"`, w.Header().Get("ETag"))
	assert.Contains(t, w.Header().Get("Cache-Control"), "immutable")
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
}

func TestBlobDownloadRange(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")
	result := uploadBlob(t, f, alice, []byte("0123456789"))

	req := httptest.NewRequest(http.MethodGet, "/api/blobs/"+result.Hash, nil)
	req.Header.Set("Authorization", "Bearer "+alice)
	req.Header.Set("Range", "bytes=2-5")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "2345", w.Body.String())
}

func TestBlobUploadDeduplicates(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")
	bob := f.token(t, "bob")

	data := []byte("shared bytes")
	first := uploadBlob(t, f, alice, data)
	second := uploadBlob(t, f, bob, data)

	assert.Equal(t, first.Hash, second.Hash)
	assert.True(t, second.Deduplicated)
}

func TestBlobUploadTooLarge(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")

	w := f.doJSON(t, http.MethodPost, "/api/blobs/upload/init", alice, map[string]interface{}{
		"size": 2 << 20,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Error string `json:"error"`
	}
	decode(t, w, &body)
	assert.Equal(t, blob.CodeBlobTooLarge, body.Error)
}

func TestBlobUploadBadChunk(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")

	w := f.doJSON(t, http.MethodPost, "/api/blobs/upload/init", alice, map[string]interface{}{"size": 10})
	require.Equal(t, http.StatusCreated, w.Code)
	var sess initResponse
	decode(t, w, &sess)

	// Wrong size for a middle chunk.
	w = f.do(t, http.MethodPut, "/api/blobs/upload/"+sess.UploadID+"/chunk/0", alice, []byte("xy"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Error string `json:"error"`
	}
	decode(t, w, &body)
	assert.Equal(t, blob.CodeInvalidChunkSize, body.Error)

	// Completing without all chunks fails.
	w = f.do(t, http.MethodPost, "/api/blobs/upload/"+sess.UploadID+"/complete", alice, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	decode(t, w, &body)
	assert.Equal(t, blob.CodeIncompleteUpload, body.Error)
}

func TestBlobUploadCancel(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")
	bob := f.token(t, "bob")

	w := f.doJSON(t, http.MethodPost, "/api/blobs/upload/init", alice, map[string]interface{}{"size": 8})
	require.Equal(t, http.StatusCreated, w.Code)
	var sess initResponse
	decode(t, w, &sess)

	w = f.do(t, http.MethodDelete, "/api/blobs/upload/"+sess.UploadID, bob, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodDelete, "/api/blobs/upload/"+sess.UploadID, alice, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, "/api/blobs/upload/"+sess.UploadID, alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBlobClaims(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")
	bob := f.token(t, "bob")

	result := uploadBlob(t, f, alice, []byte("claimable"))

	w := f.do(t, http.MethodPost, "/api/blobs/"+result.Hash+"/claim", bob, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Claiming twice conflicts.
	w = f.do(t, http.MethodPost, "/api/blobs/"+result.Hash+"/claim", bob, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodDelete, "/api/blobs/"+result.Hash+"/claim", bob, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, "/api/blobs/"+result.Hash+"/claim", bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/blobs/no-such-hash/claim", bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBlobDownloadUnknownHash(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice")

	w := f.do(t, http.MethodGet, "/api/blobs/0000000000000000", alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
