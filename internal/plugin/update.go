package plugin

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// UpdateResult is the outcome of Manager.Update.
type UpdateResult int

// Update results.
const (
	UpdateNotNeeded UpdateResult = iota
	UpdateInvalidURL
	UpdateFailed
	UpdateSucceeded
)

// String returns the human-readable result.
func (r UpdateResult) String() string {
	switch r {
	case UpdateNotNeeded:
		return "Update Not Needed"
	case UpdateInvalidURL:
		return "Update Failed - Invalid URL"
	case UpdateFailed:
		return "Update Failed"
	case UpdateSucceeded:
		return "Update Succeeded"
	default:
		return "unknown"
	}
}

// Downloader fetches a new version of a plugin.
type Downloader interface {
	Download(ctx context.Context, name string, u *url.URL) error
}

// DownloaderFunc adapts a function to Downloader.
type DownloaderFunc func(ctx context.Context, name string, u *url.URL) error

// Download calls f.
func (f DownloaderFunc) Download(ctx context.Context, name string, u *url.URL) error {
	return f(ctx, name, u)
}

// StubDownloader always fails with ErrDownloadUnsupported.
type StubDownloader struct{}

// Download implements Downloader.
func (StubDownloader) Download(context.Context, string, *url.URL) error {
	return ErrDownloadUnsupported
}

// Update downloads a newer version of the named plugin when it reports one
// is needed.
func (m *Manager) Update(ctx context.Context, name string) (UpdateResult, error) {
	h, err := m.registry.Get(name)
	if err != nil {
		return UpdateFailed, err
	}
	needed, recovered := query(h, "update_needed", h.contract.UpdateNeeded)
	if recovered != nil {
		return UpdateFailed, nil
	}
	if !needed {
		return UpdateNotNeeded, nil
	}

	raw, recovered := query(h, "download_url", h.contract.DownloadURL)
	if recovered != nil {
		return UpdateFailed, nil
	}
	u, err := parseDownloadURL(raw)
	if err != nil {
		m.logger.Warn("invalid download url", zap.String("plugin", name), zap.Error(err))
		return UpdateInvalidURL, nil
	}

	if err := m.downloader.Download(ctx, name, u); err != nil {
		m.logger.Warn("plugin download failed", zap.String("plugin", name), zap.Error(err))
		return UpdateFailed, nil
	}
	return UpdateSucceeded, nil
}

func parseDownloadURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty download url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("download url %q is not absolute", raw)
	}
	return u, nil
}
