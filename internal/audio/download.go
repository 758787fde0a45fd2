package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

var downloadClient = &http.Client{Timeout: 30 * time.Second}

// Download fetches a remote audio reference into dir and returns the
// local path. The remote file name is kept when it has one.
func Download(ctx context.Context, rawURL string, dir string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("bad audio url %q: %w", rawURL, err)
	}

	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		name = uuid.NewString() + ".audio"
	}
	dst := filepath.Join(dir, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("saving %s: %w", rawURL, err)
	}
	return dst, nil
}
