package zfs

import (
	"fmt"
	"io"

	"github.com/juju/ratelimit"
	"github.com/klauspost/compress/zstd"
)

func rateLimitWriter(writer io.Writer, bytesPerSecond int64) io.Writer {
	if bytesPerSecond <= 0 {
		return writer
	}
	return ratelimit.Writer(writer, ratelimit.NewBucketWithRate(float64(bytesPerSecond), bytesPerSecond))
}

func rateLimitReader(reader io.Reader, bytesPerSecond int64) io.Reader {
	if bytesPerSecond <= 0 {
		return reader
	}
	return ratelimit.Reader(reader, ratelimit.NewBucketWithRate(float64(bytesPerSecond), bytesPerSecond))
}

func zstdWriter(writer io.Writer, level zstd.EncoderLevel) (io.Writer, func() error, error) {
	if level == 0 {
		return writer, func() error { return nil }, nil
	}

	encoder, err := zstd.NewWriter(writer, zstd.WithEncoderLevel(level))
	if err != nil {
		return writer, func() error { return nil }, fmt.Errorf("error creating zstd encoder: %w", err)
	}
	return encoder, func() error {
		err := encoder.Close()
		if err != nil {
			return fmt.Errorf("error closing zstd encoder: %w", err)
		}
		return nil
	}, nil
}

func zstdReader(reader io.Reader, enabled bool) (io.Reader, func(), error) {
	if !enabled {
		return reader, func() {}, nil
	}

	decoder, err := zstd.NewReader(reader)
	if err != nil {
		return reader, func() {}, fmt.Errorf("error creating zstd decoder: %w", err)
	}
	return decoder, decoder.Close, nil
}

// StreamWriter wraps a writer receiving a send stream, compressing with zstd when a level is given
// and rate limiting the compressed output. The returned func must be called to flush the stream.
func StreamWriter(writer io.Writer, bytesPerSecond int64, level zstd.EncoderLevel) (io.Writer, func() error, error) {
	return zstdWriter(rateLimitWriter(writer, bytesPerSecond), level)
}

// StreamReader is the counterpart of StreamWriter for receiving streams
func StreamReader(reader io.Reader, bytesPerSecond int64, decompress bool) (io.Reader, func(), error) {
	return zstdReader(rateLimitReader(reader, bytesPerSecond), decompress)
}

// NewCountReader creates a new CountReader
func NewCountReader(reader io.Reader) *CountReader {
	return &CountReader{
		Reader: reader,
	}
}

// CountReader counts the bytes it has read
type CountReader struct {
	io.Reader
	n int64
}

func (r *CountReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	r.n += int64(n)
	return n, err
}

func (r *CountReader) Count() int64 {
	return r.n
}

// NewCountWriter creates a new CountWriter
func NewCountWriter(writer io.Writer) *CountWriter {
	return &CountWriter{
		Writer: writer,
	}
}

// CountWriter counts the bytes it has written
type CountWriter struct {
	io.Writer
	n int64
}

func (w *CountWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	w.n += int64(n)
	return n, err
}

func (w *CountWriter) Count() int64 {
	return w.n
}
