package sidecar

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Release metadata as served by the GitHub releases API.
type releaseMeta struct {
	TagName string         `json:"tag_name"`
	Assets  []releaseAsset `json:"assets"`
}

type releaseAsset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
}

// maxArchiveEntry caps how much of a single archive member is extracted.
const maxArchiveEntry = 256 << 20

// EnsureBinary makes sure a usable sidecar binary exists locally and
// returns its path. With checkUpdate set, the release source is consulted
// and a newer tag triggers a re-download; otherwise an existing binary is
// used as-is. Installation failures wrap ErrInstall and are fatal to the
// caller's startup sequence.
func (m *Manager) EnsureBinary(ctx context.Context, checkUpdate bool) (string, error) {
	binDir := filepath.Join(m.dataDir, "bin")
	bin := filepath.Join(binDir, m.svc.BinaryName)
	versionFile := bin + ".version"

	_, statErr := os.Stat(bin)
	installed := statErr == nil

	if installed && !checkUpdate {
		m.setBinPath(bin)
		return bin, nil
	}

	meta, err := m.fetchRelease(ctx)
	if err != nil {
		if installed {
			// Offline update checks are not fatal while a binary exists.
			m.log.Warn("release check failed, keeping installed binary", "err", err)
			m.setBinPath(bin)
			return bin, nil
		}
		return "", fmt.Errorf("%w: %v", ErrInstall, err)
	}

	if installed {
		if cur, err := os.ReadFile(versionFile); err == nil && strings.TrimSpace(string(cur)) == meta.TagName {
			m.setBinPath(bin)
			return bin, nil
		}
		m.log.Info("updating binary", "tag", meta.TagName)
	}

	asset, ok := pickAsset(meta.Assets)
	if !ok {
		return "", fmt.Errorf("%w: no release asset for %s/%s", ErrInstall, runtime.GOOS, runtime.GOARCH)
	}

	if err := os.MkdirAll(binDir, 0o750); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInstall, err)
	}
	if err := m.downloadAndExtract(ctx, asset, bin); err != nil {
		return "", err
	}
	if err := os.WriteFile(versionFile, []byte(meta.TagName+"\n"), 0o600); err != nil {
		m.log.Warn("could not persist release tag", "err", err)
	}

	m.setBinPath(bin)
	m.log.Info("installed", "tag", meta.TagName, "binary", bin)
	return bin, nil
}

func (m *Manager) setBinPath(p string) {
	m.mu.Lock()
	m.binPath = p
	m.mu.Unlock()
}

func (m *Manager) fetchRelease(ctx context.Context) (*releaseMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.svc.ReleasesURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release metadata: HTTP %d", resp.StatusCode)
	}
	var meta releaseMeta
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("release metadata: %w", err)
	}
	return &meta, nil
}

// pickAsset selects the archive matching the host OS and architecture.
func pickAsset(assets []releaseAsset) (releaseAsset, bool) {
	archAliases := map[string][]string{
		"amd64": {"amd64", "x86_64"},
		"arm64": {"arm64", "aarch64"},
		"386":   {"386", "x86"},
	}
	arches := archAliases[runtime.GOARCH]
	if arches == nil {
		arches = []string{runtime.GOARCH}
	}
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		if !isArchive(name) || !strings.Contains(name, runtime.GOOS) {
			continue
		}
		for _, arch := range arches {
			if strings.Contains(name, arch) {
				return a, true
			}
		}
	}
	return releaseAsset{}, false
}

func isArchive(name string) bool {
	return strings.HasSuffix(name, ".zip") ||
		strings.HasSuffix(name, ".tar.gz") ||
		strings.HasSuffix(name, ".tgz")
}

func (m *Manager) downloadAndExtract(ctx context.Context, asset releaseAsset, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.DownloadURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInstall, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download %s: %v", ErrInstall, asset.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download %s: HTTP %d", ErrInstall, asset.Name, resp.StatusCode)
	}

	archive, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveEntry))
	if err != nil {
		return fmt.Errorf("%w: download %s: %v", ErrInstall, asset.Name, err)
	}

	var content []byte
	if strings.HasSuffix(strings.ToLower(asset.Name), ".zip") {
		content, err = extractZip(archive, m.svc.BinaryName)
	} else {
		content, err = extractTarGz(archive, m.svc.BinaryName)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInstall, asset.Name, err)
	}

	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, content, 0o755); err != nil { // #nosec G306 -- executable
		return fmt.Errorf("%w: %v", ErrInstall, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInstall, err)
	}
	return nil
}

// extractZip finds the named executable inside a zip archive.
func extractZip(data []byte, binaryName string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if filepath.Base(f.Name) != binaryName || f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxArchiveEntry))
		_ = rc.Close()
		return content, err
	}
	return nil, fmt.Errorf("archive has no %q entry", binaryName)
}

// extractTarGz finds the named executable inside a gzipped tar archive.
func extractTarGz(data []byte, binaryName string) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = gz.Close() }()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != binaryName {
			continue
		}
		return io.ReadAll(io.LimitReader(tr, maxArchiveEntry))
	}
	return nil, fmt.Errorf("archive has no %q entry", binaryName)
}
