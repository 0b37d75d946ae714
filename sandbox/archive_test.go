package sandbox

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0600,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestUnpackArchive(t *testing.T) {
	t.Run("RegularFiles", func(t *testing.T) {
		data := makeTarGz(t, map[string]string{
			"dataset.csv":  "a,b\n1,2\n",
			"sub/notes.md": "hello",
		})
		files, err := UnpackArchive(data)
		require.NoError(t, err)
		assert.Len(t, files, 2)
		assert.Equal(t, []byte("a,b\n1,2\n"), files["dataset.csv"])
		assert.Equal(t, []byte("hello"), files["sub/notes.md"])
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		data := makeTarGz(t, map[string]string{"../evil.py": "x"})
		_, err := UnpackArchive(data)
		require.Error(t, err)
	})

	t.Run("RejectsAbsolutePath", func(t *testing.T) {
		data := makeTarGz(t, map[string]string{"/etc/passwd": "x"})
		_, err := UnpackArchive(data)
		require.Error(t, err)
	})

	t.Run("RejectsSymlink", func(t *testing.T) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		tw := tar.NewWriter(gz)
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "link",
			Linkname: "/etc/passwd",
			Typeflag: tar.TypeSymlink,
		}))
		require.NoError(t, tw.Close())
		require.NoError(t, gz.Close())

		_, err := UnpackArchive(buf.Bytes())
		require.Error(t, err)
	})

	t.Run("NotGzip", func(t *testing.T) {
		_, err := UnpackArchive([]byte("plainly not an archive"))
		require.Error(t, err)
	})
}
