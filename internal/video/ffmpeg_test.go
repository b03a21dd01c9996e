package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/image/bmp"
)

func encodeBMP(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, img))
	return buf.Bytes()
}

func TestReadBMPStream(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(encodeBMP(t, 16, 8, color.RGBA{R: 255, A: 255}))
	stream.Write(encodeBMP(t, 16, 8, color.RGBA{B: 255, A: 255}))

	first, err := ReadBMP(&stream)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 8), first.Bounds())
	r, _, _, _ := first.At(3, 3).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	second, err := ReadBMP(&stream)
	require.NoError(t, err)
	_, _, b, _ := second.At(3, 3).RGBA()
	assert.Equal(t, uint32(0xffff), b)

	_, err = ReadBMP(&stream)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadBMPErrors(t *testing.T) {
	_, err := ReadBMP(bytes.NewReader([]byte("PNG not a bitmap")))
	require.ErrorContains(t, err, "not a BMP")

	_, err = ReadBMP(bytes.NewReader([]byte("BM")))
	require.ErrorContains(t, err, "truncated")

	data := encodeBMP(t, 4, 4, color.White)
	_, err = ReadBMP(bytes.NewReader(data[:len(data)-3]))
	require.ErrorContains(t, err, "read bmp body")
	assert.False(t, errors.Is(err, io.EOF))
}

func TestIsLocalFile(t *testing.T) {
	assert.True(t, isLocalFile("samples/input1.mp4"))
	assert.True(t, isLocalFile("/var/video/cam.mkv"))
	assert.True(t, isLocalFile(`C:\videos\input1.mp4`))
	assert.False(t, isLocalFile("rtsp://10.0.0.5/stream1"))
	assert.False(t, isLocalFile("/dev/video0"))
	assert.False(t, isLocalFile("testsrc=size=64x48:rate=5"))
}

func TestOpenFFmpegMissingFile(t *testing.T) {
	_, err := OpenFFmpeg(context.Background(), "does/not/exist.mp4", nil, 0, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
}

func TestOpenFFmpegTestSource(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	src, err := OpenFFmpeg(ctx, "testsrc=size=64x48:rate=5:duration=1", map[string]string{"f": "lavfi"}, 0, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer src.Close()

	frames := 0
	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 64, 48), frame.Image.Bounds())
		frames++
	}
	assert.InDelta(t, 5, frames, 1)
	require.NoError(t, src.Close())
}
