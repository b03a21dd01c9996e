// Package video decodes frames from files, capture devices and network
// streams through an ffmpeg subprocess.
package video

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
	"golang.org/x/image/bmp"

	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

const bmpHeaderSize = 14

var errClosed = errors.New("frame source closed")

type frameResult struct {
	frame models.Frame
	err   error
}

// FFmpegSource pipes BMP frames out of ffmpeg and decodes them one at a time.
// The decoder goroutine hands each frame over an unbuffered channel, so at most
// one decoded frame waits for the loop.
type FFmpegSource struct {
	frames  chan frameResult
	pending *frameResult
	cancel  context.CancelFunc
	pipe    *io.PipeReader
	wg      sync.WaitGroup
	once    sync.Once
	logger  *zap.SugaredLogger
}

// OpenFFmpeg starts ffmpeg for source and waits for the first frame, so that a
// missing file or unreachable camera fails here and not inside the loop.
func OpenFFmpeg(ctx context.Context, source string, inputArgs map[string]string, fps float64, logger *zap.SugaredLogger) (*FFmpegSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found: %w", err)
	}
	if isLocalFile(source) {
		if _, err := os.Stat(source); err != nil {
			return nil, fmt.Errorf("open video %s: %w", source, err)
		}
	}

	inArgs := ffmpeg.KwArgs{}
	for key, value := range inputArgs {
		// empty values are bare flags such as -re
		if value == "" {
			inArgs[key] = nil
			continue
		}
		inArgs[key] = value
	}
	outArgs := ffmpeg.KwArgs{"format": "image2pipe", "vcodec": "bmp"}
	if fps > 0 {
		outArgs["r"] = fps
	}

	runCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	s := &FFmpegSource{
		frames: make(chan frameResult),
		cancel: cancel,
		pipe:   pr,
		logger: logger,
	}

	stream := ffmpeg.Input(source, inArgs).Output("pipe:", outArgs)
	stream.Context = runCtx

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		var stderr bytes.Buffer
		err := stream.WithOutput(pw).WithErrorOutput(&stderr).Run()
		if err != nil && runCtx.Err() == nil {
			err = fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, tail(stderr.String(), 512))
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	go func() {
		defer s.wg.Done()
		defer close(s.frames)
		s.decode(runCtx, pr)
	}()

	first, err := s.next(ctx)
	if err != nil {
		s.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("open video %s: no frames decoded", source)
		}
		return nil, fmt.Errorf("open video %s: %w", source, err)
	}
	s.pending = &frameResult{frame: first}

	logger.Infof("Video: opened %s (%dx%d)", source, first.Image.Bounds().Dx(), first.Image.Bounds().Dy())
	return s, nil
}

func (s *FFmpegSource) decode(ctx context.Context, r io.Reader) {
	for {
		img, err := ReadBMP(r)
		res := frameResult{err: err}
		if err == nil {
			res.frame = models.Frame{Image: img, CapturedAt: time.Now()}
		}

		select {
		case s.frames <- res:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Next returns the next decoded frame or io.EOF when ffmpeg reaches the end of the input
func (s *FFmpegSource) Next(ctx context.Context) (models.Frame, error) {
	if s.pending != nil {
		res := *s.pending
		s.pending = nil
		return res.frame, res.err
	}
	return s.next(ctx)
}

func (s *FFmpegSource) next(ctx context.Context) (models.Frame, error) {
	select {
	case res, ok := <-s.frames:
		if !ok {
			return models.Frame{}, io.EOF
		}
		return res.frame, res.err
	case <-ctx.Done():
		return models.Frame{}, ctx.Err()
	}
}

// Close stops ffmpeg and waits for the decoder to exit
func (s *FFmpegSource) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.pipe.CloseWithError(errClosed)
		s.wg.Wait()
		s.logger.Info("Video: source released")
	})
	return nil
}

// ReadBMP reads exactly one BMP image from a concatenated image2pipe stream.
// A clean end of stream between images is reported as io.EOF.
func ReadBMP(r io.Reader) (image.Image, error) {
	header := make([]byte, bmpHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated bmp header: %w", err)
		}
		return nil, err
	}

	if header[0] != 'B' || header[1] != 'M' {
		return nil, errors.New("not a BMP file")
	}

	fileSize := binary.LittleEndian.Uint32(header[2:6])
	if fileSize <= bmpHeaderSize {
		return nil, fmt.Errorf("invalid bmp size %d", fileSize)
	}
	body := make([]byte, fileSize-bmpHeaderSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read bmp body: %w", err)
	}

	img, err := bmp.Decode(io.MultiReader(bytes.NewReader(header), bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("decode bmp: %w", err)
	}
	return img, nil
}

// isLocalFile reports whether source names a path rather than a url or capture device
func isLocalFile(source string) bool {
	if strings.Contains(source, "://") || strings.HasPrefix(source, "/dev/") {
		return false
	}
	return !strings.Contains(source, ":") || len(source) > 2 && source[1] == ':'
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
