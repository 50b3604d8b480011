package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/oshokin/gitrs-bundler/internal/logger"
	"github.com/oshokin/gitrs-bundler/internal/version"
)

var (
	// ErrEmptySource is returned when no URL is given.
	ErrEmptySource = errors.New("source url is empty")
	// ErrTransport covers DNS, connection and body transfer failures.
	ErrTransport = errors.New("transport failure")
	// ErrBadHTTPStatus is returned for any response other than 200 OK.
	ErrBadHTTPStatus = errors.New("unexpected http status")
	// ErrWriteFile is returned when the destination file cannot be written.
	ErrWriteFile = errors.New("write downloaded file")
)

// Fetcher streams remote files to disk.
type Fetcher struct {
	// client performs the requests.
	client *http.Client
	// timeout bounds a whole transfer; zero means no limit.
	timeout time.Duration
	// progress receives a byte progress bar; nil disables it.
	progress io.Writer
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithTimeout bounds every transfer, body included.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// WithProgress renders a download progress bar to w.
func WithProgress(w io.Writer) Option {
	return func(f *Fetcher) {
		f.progress = w
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch downloads source into dest, truncating any previous content.
// It returns the number of bytes written. A non-200 status is an error even
// when a body was received; dest is left as-is for the caller to clean up.
func (f *Fetcher) Fetch(ctx context.Context, source, dest string) (int64, error) {
	if source == "" {
		return 0, ErrEmptySource
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrTransport, source, err)
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrTransport, source, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	logger.DebugKV(ctx, "Received response",
		"url", source, "status", response.StatusCode, "content_length", response.ContentLength)

	out, err := os.OpenFile(filepath.Clean(dest), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrWriteFile, dest, err)
	}

	written, copyErr := io.Copy(f.sink(&fileWriter{file: out}, source, response.ContentLength), response.Body)

	if closeErr := out.Close(); closeErr != nil && copyErr == nil {
		return written, fmt.Errorf("%w: %s: %w", ErrWriteFile, dest, closeErr)
	}

	if response.StatusCode != http.StatusOK {
		return written, fmt.Errorf("%s, %d %s: %w",
			source, response.StatusCode, http.StatusText(response.StatusCode), ErrBadHTTPStatus)
	}

	var writeErr *destinationError
	if errors.As(copyErr, &writeErr) {
		return written, fmt.Errorf("%w: %s: %w", ErrWriteFile, dest, writeErr.err)
	}

	if copyErr != nil {
		return written, fmt.Errorf("%w: %s: %w", ErrTransport, source, copyErr)
	}

	return written, nil
}

// destinationError marks a failure to write the destination file,
// as opposed to a failure to read the response body.
type destinationError struct {
	err error
}

func (e *destinationError) Error() string {
	return e.err.Error()
}

func (e *destinationError) Unwrap() error {
	return e.err
}

// fileWriter tags write errors of the destination file.
type fileWriter struct {
	file *os.File
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		return n, &destinationError{err: err}
	}

	return n, nil
}

// sink attaches a progress bar when one is configured and the size is known.
func (f *Fetcher) sink(out io.Writer, source string, size int64) io.Writer {
	if f.progress == nil || size <= 0 {
		return out
	}

	bar := progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(f.progress),
		progressbar.OptionSetDescription("downloading "+path.Base(source)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(f.progress)
		}),
	)

	return io.MultiWriter(out, bar)
}
