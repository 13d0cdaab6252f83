// Package updater provides self-update functionality for the flowstate
// binaries, so a runner fleet spun up on ephemeral GPU pods can pull
// its own binary update without a fresh image build.
package updater

import (
	"archive/tar"
	"compress/gzip"
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

const (
	githubAPIBase   = "https://api.github.com/repos/"
	downloadBase    = "https://github.com/"
	checkTimeout    = 10 * time.Second
	downloadTimeout = 5 * time.Minute
)

// Updater checks for and installs new releases of a single binary
// published as a GitHub release asset.
type Updater struct {
	Repo       string // "owner/name"
	BinaryName string // e.g. "flowrunner"
}

// New builds an Updater for repo (owner/name) and the named binary
// asset within its releases.
func New(repo, binaryName string) *Updater {
	return &Updater{Repo: repo, BinaryName: binaryName}
}

// GitHubRelease represents the GitHub API response for a release.
type GitHubRelease struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
}

// CheckLatestVersion fetches the latest version tag from GitHub.
func (u *Updater) CheckLatestVersion() (string, error) {
	client := &http.Client{Timeout: checkTimeout}

	resp, err := client.Get(githubAPIBase + u.Repo + "/releases/latest")
	if err != nil {
		return "", fmt.Errorf("failed to check for updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", fmt.Errorf("failed to parse release info: %w", err)
	}

	return release.TagName, nil
}

// NeedsUpdate compares version strings and returns true if latest is
// newer. Versions are expected in format "vX.Y.Z" or "X.Y.Z".
func NeedsUpdate(current, latest string) bool {
	current = strings.TrimPrefix(current, "v")
	latest = strings.TrimPrefix(latest, "v")

	if current == "dev" {
		return latest != "dev"
	}

	currentParts := parseVersion(current)
	latestParts := parseVersion(latest)

	for i := 0; i < 3; i++ {
		if latestParts[i] > currentParts[i] {
			return true
		}
		if latestParts[i] < currentParts[i] {
			return false
		}
	}

	return false
}

func parseVersion(v string) [3]int {
	var parts [3]int
	fmt.Sscanf(v, "%d.%d.%d", &parts[0], &parts[1], &parts[2])
	return parts
}

// SelfUpdate downloads and installs targetVersion in place of the
// currently running executable.
func (u *Updater) SelfUpdate(targetVersion string) error {
	platform := fmt.Sprintf("%s_%s", runtime.GOOS, runtime.GOARCH)

	versionNum := strings.TrimPrefix(targetVersion, "v")
	archiveName := fmt.Sprintf("%s_%s_%s.tar.gz", u.BinaryName, versionNum, platform)
	url := fmt.Sprintf("%s%s/releases/download/%s/%s", downloadBase, u.Repo, targetVersion, archiveName)

	tmpDir, err := os.MkdirTemp("", u.BinaryName+"-update-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	archivePath := filepath.Join(tmpDir, archiveName)
	if err := downloadFile(url, archivePath); err != nil {
		return fmt.Errorf("failed to download update: %w", err)
	}

	newBinaryPath := filepath.Join(tmpDir, u.BinaryName)
	if err := extractTarGz(archivePath, tmpDir, u.BinaryName); err != nil {
		return fmt.Errorf("failed to extract update: %w", err)
	}

	currentExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	currentExe, err = filepath.EvalSymlinks(currentExe)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	if err := replaceBinary(currentExe, newBinaryPath); err != nil {
		return fmt.Errorf("failed to replace binary: %w", err)
	}

	return nil
}

func downloadFile(url, dest string) error {
	client := &http.Client{Timeout: downloadTimeout}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}

// extractTarGz extracts a specific file from a tar.gz archive.
func extractTarGz(archivePath, destDir, targetFile string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		baseName := filepath.Base(header.Name)
		if baseName == targetFile && header.Typeflag == tar.TypeReg {
			destPath := filepath.Join(destDir, targetFile)
			outFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
			if err != nil {
				return err
			}
			defer outFile.Close()

			if _, err := io.Copy(outFile, tr); err != nil {
				return err
			}
			return nil
		}
	}

	return fmt.Errorf("binary %s not found in archive", targetFile)
}

func replaceBinary(currentPath, newPath string) error {
	info, err := os.Stat(currentPath)
	if err != nil {
		return err
	}

	backupPath := currentPath + ".old"
	os.Remove(backupPath)

	if err := os.Rename(currentPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup current binary: %w", err)
	}

	if err := copyFile(newPath, currentPath, info.Mode()); err != nil {
		os.Rename(backupPath, currentPath)
		return fmt.Errorf("failed to install new binary: %w", err)
	}

	os.Remove(backupPath)
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
