package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/go-resty/resty/v2"
	"github.com/tethys-dataset-services/internal/common/logger"
	"github.com/tethys-dataset-services/internal/common/transport"
)

// Downloader saves the content behind a URL at destPath and returns the
// number of bytes written.
type Downloader interface {
	Download(ctx context.Context, rawURL string, destPath string) (int64, error)
}

// HTTPDownloader streams remote files to disk through a temp file so a
// partial download never replaces the destination. Requests go through the
// plain client unless the URL host was registered with Trust.
type HTTPDownloader struct {
	client  *resty.Client
	trusted map[string]*resty.Client
	logger  logger.Logger
	// ProgressEvery is the minimum interval between progress log lines.
	ProgressEvery time.Duration
}

func NewHTTPDownloader(client *resty.Client, log logger.Logger) *HTTPDownloader {
	if client == nil {
		client = resty.New()
	}
	return &HTTPDownloader{
		client:        client,
		trusted:       map[string]*resty.Client{},
		logger:        logger.OrNop(log),
		ProgressEvery: 5 * time.Second,
	}
}

// Trust routes downloads from host through client, which may carry
// credentials. host is matched against the URL host including the port.
func (d *HTTPDownloader) Trust(host string, client *resty.Client) *HTTPDownloader {
	d.trusted[strings.ToLower(host)] = client
	return d
}

func (d *HTTPDownloader) clientFor(rawURL string) *resty.Client {
	if u, err := url.Parse(rawURL); err == nil {
		if c, ok := d.trusted[strings.ToLower(u.Host)]; ok {
			return c
		}
	}
	return d.client
}

func (d *HTTPDownloader) Download(ctx context.Context, rawURL string, destPath string) (int64, error) {
	destDir := filepath.Dir(destPath)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, fmt.Errorf("creating destination directory: %w", err)
	}

	tempFile, err := os.CreateTemp(destDir, ".download_*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath)

	d.logger.Info("Starting download", "url", rawURL, "dest", destPath)

	resp, err := d.clientFor(rawURL).R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		tempFile.Close()
		return 0, transport.Check("download", resp, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		tempFile.Close()
		preview, _ := io.ReadAll(io.LimitReader(body, 4096))
		return 0, transport.StatusError("download", resp.StatusCode(), preview)
	}

	written, err := d.copyWithProgress(tempFile, body, resp.RawResponse.ContentLength)
	tempFile.Close()
	if err != nil {
		return written, fmt.Errorf("downloading file: %w", err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		return written, fmt.Errorf("moving file to destination: %w", err)
	}

	d.logger.Info("Download completed",
		"url", rawURL,
		"dest", destPath,
		"size", units.HumanSize(float64(written)))

	return written, nil
}

// SafeName returns name when it is usable as a single file name inside a
// directory, and fallback otherwise.
func SafeName(name, fallback string) string {
	name = strings.TrimSpace(name)
	switch name {
	case "", ".", "..":
		return fallback
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fallback
	}
	return name
}

func (d *HTTPDownloader) copyWithProgress(dst io.Writer, src io.Reader, totalSize int64) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	lastLog := time.Now()

	for {
		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
			written += int64(nw)

			if time.Since(lastLog) > d.ProgressEvery && totalSize > 0 {
				d.logger.Debug("Download progress",
					"progress_percent", fmt.Sprintf("%.1f", float64(written)/float64(totalSize)*100),
					"downloaded", units.HumanSize(float64(written)),
					"total", units.HumanSize(float64(totalSize)))
				lastLog = time.Now()
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, err
		}
	}

	return written, nil
}
