package diag

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltSink(t *testing.T) {
	sink, err := NewBoltSink(filepath.Join(t.TempDir(), "diag.db"), 0)
	require.NoError(t, err)
	defer sink.Close()

	id1, err := sink.Save(Record{Kind: "html body", URL: "http://erp/xmlrpc/2/object", StatusCode: 200, Body: []byte("<html>oops</html>")})
	require.NoError(t, err)
	require.NotEmpty(t, id1)
	id2, err := sink.Save(Record{Kind: "bad status", StatusCode: 502, Body: []byte("gateway")})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	rec, err := sink.Load(id1)
	require.NoError(t, err)
	assert.Equal(t, id1, rec.ID)
	assert.Equal(t, "html body", rec.Kind)
	assert.Equal(t, []byte("<html>oops</html>"), rec.Body)
	assert.False(t, rec.Time.IsZero())

	_, err = sink.Load("missing")
	assert.Error(t, err)

	recs, err := sink.List(0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, id2, recs[0].ID, "newest first")

	recs, err = sink.List(1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestBoltSinkTruncates(t *testing.T) {
	sink, err := NewBoltSink(filepath.Join(t.TempDir(), "diag.db"), 4)
	require.NoError(t, err)
	defer sink.Close()

	id, err := sink.Save(Record{Body: []byte("0123456789")})
	require.NoError(t, err)
	rec, err := sink.Load(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123"), rec.Body)
}

func TestBoltSinkBadPath(t *testing.T) {
	_, err := NewBoltSink(filepath.Join(t.TempDir(), "no", "such", "dir", "diag.db"), 0)
	assert.Error(t, err)
}

func TestNopSink(t *testing.T) {
	id, err := NopSink{}.Save(Record{Body: []byte("x")})
	assert.NoError(t, err)
	assert.Empty(t, id)
}
