package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	psd "github.com/Mark24Code/psddecode"
)

// writeGray writes a w x h grayscale document with empty metadata sections
// and an uncompressed composite filled with v.
func writeGray(t *testing.T, w, h int, v byte) string {
	t.Helper()
	return writeDoc(t, w, h, v, nil)
}

// writeDoc is writeGray with the given image resource block contents.
func writeDoc(t *testing.T, w, h int, v byte, resources []byte) string {
	t.Helper()
	buf := new(bytes.Buffer)
	buf.WriteString("8BPS")
	for _, field := range []any{uint16(1), [6]byte{}, uint16(1), uint32(h), uint32(w), uint16(8), uint16(psd.ColorModeGrayscale),
		uint32(0), uint32(len(resources))} {
		require.NoError(t, binary.Write(buf, binary.BigEndian, field))
	}
	buf.Write(resources)
	for _, field := range []any{uint32(0), uint16(0)} {
		require.NoError(t, binary.Write(buf, binary.BigEndian, field))
	}
	buf.Write(bytes.Repeat([]byte{v}, w*h))

	name := filepath.Join(t.TempDir(), "gray.psd")
	require.NoError(t, os.WriteFile(name, buf.Bytes(), 0o644))
	return name
}

func TestRunJSON(t *testing.T) {
	out := new(bytes.Buffer)
	cfg := &config{Input: writeGray(t, 3, 2, 0x80), JSON: true}
	require.NoError(t, run(cfg, slog.New(slog.DiscardHandler), out))

	var m psd.Metadata
	require.NoError(t, json.Unmarshal(out.Bytes(), &m))
	assert.Equal(t, 3, m.Width)
	assert.Equal(t, 2, m.Height)
	assert.Equal(t, "Grayscale", m.Mode)
	assert.Equal(t, "Gray", m.ColorSpace)
	assert.False(t, m.EmbeddedProfile)
}

func TestRunSummary(t *testing.T) {
	out := new(bytes.Buffer)
	require.NoError(t, run(&config{Input: writeGray(t, 1, 1, 0)}, slog.New(slog.DiscardHandler), out))
	assert.Contains(t, out.String(), "compression: None")
	assert.Contains(t, out.String(), "resources: 0")
}

// iptcResource wraps IPTC datasets of record 2 in an image resource.
func iptcResource(t *testing.T, datasets map[uint8]string, order ...uint8) []byte {
	t.Helper()
	data := new(bytes.Buffer)
	for _, n := range order {
		for _, field := range []any{uint8(0x1c), uint8(2), n, uint16(len(datasets[n]))} {
			require.NoError(t, binary.Write(data, binary.BigEndian, field))
		}
		data.WriteString(datasets[n])
	}

	buf := new(bytes.Buffer)
	buf.WriteString("8BIM")
	for _, field := range []any{uint16(psd.ResourceIPTC), uint16(0), uint32(data.Len())} {
		require.NoError(t, binary.Write(buf, binary.BigEndian, field))
	}
	buf.Write(data.Bytes())
	if data.Len()%2 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func TestRunSummaryOrder(t *testing.T) {
	datasets := map[uint8]string{122: "writer", 120: "caption", 90: "city", 80: "author"}
	name := writeDoc(t, 1, 1, 0, iptcResource(t, datasets, 122, 90, 120, 80))

	var first string
	for i := 0; i < 5; i++ {
		out := new(bytes.Buffer)
		require.NoError(t, run(&config{Input: name}, slog.New(slog.DiscardHandler), out))
		if i == 0 {
			first = out.String()
			continue
		}
		assert.Equal(t, first, out.String())
	}

	var keys []string
	for _, line := range strings.Split(first, "\n") {
		if k, ok := strings.CutPrefix(line, "iptc "); ok {
			keys = append(keys, k[:strings.Index(k, ":")])
		}
	}
	assert.Equal(t, []string{"ByLine", "Caption", "City", "Writer"}, keys)
}

func TestRunExport(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.png")
	cfg := &config{Input: writeGray(t, 40, 20, 0x40), Output: dst, MaxSize: 10}
	require.NoError(t, run(cfg, slog.New(slog.DiscardHandler), io.Discard))

	img, err := imaging.Open(dst)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 5, img.Bounds().Dy())
}

func TestRunErrors(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	err := run(&config{Input: writeGray(t, 1, 1, 0), Thumbnail: filepath.Join(t.TempDir(), "th.jpg")}, logger, io.Discard)
	assert.EqualError(t, err, "document has no thumbnail")

	assert.ErrorIs(t, run(&config{Input: filepath.Join(t.TempDir(), "none.psd")}, logger, io.Discard), os.ErrNotExist)
}
