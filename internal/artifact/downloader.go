package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/lagonhq/lagon-node/internal/deployment"
)

// HTTPDownloader fetches a deployment's entry script and assets from a
// remote origin over HTTP, one GET per file. It is a concrete stand-in for
// the Downloader external collaborator so the reactor is runnable
// end-to-end without a real artifact backend.
type HTTPDownloader struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPDownloader builds a downloader rooted at baseURL, expecting
// "{baseURL}/{deployment_id}/index.js" and "{baseURL}/{deployment_id}/{asset}"
// to resolve to file contents.
func NewHTTPDownloader(baseURL string) *HTTPDownloader {
	return &HTTPDownloader{BaseURL: baseURL, Client: http.DefaultClient}
}

func (d *HTTPDownloader) Download(ctx context.Context, dep *deployment.Deployment) (Bundle, error) {
	entry, err := d.fetch(ctx, dep.ID, "index.js")
	if err != nil {
		return Bundle{}, fmt.Errorf("fetch entry script: %w", err)
	}

	assets := make(map[string][]byte, len(dep.Assets))
	for _, a := range dep.Assets {
		data, err := d.fetch(ctx, dep.ID, a)
		if err != nil {
			return Bundle{}, fmt.Errorf("fetch asset %s: %w", a, err)
		}
		assets[a] = data
	}

	return Bundle{Entry: entry, Assets: assets}, nil
}

func (d *HTTPDownloader) fetch(ctx context.Context, deploymentID, rel string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s", d.BaseURL, deploymentID, rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}
