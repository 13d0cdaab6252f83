// Package repoprovider clones/branches/commits/pushes and opens pull
// requests by shelling out to git and gh, the way the pipeline's
// Salvage state needs to when an agent run produced buildable work.
package repoprovider

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Provider is the git/PR surface the run pipeline drives during Prepare
// and Salvage.
type Provider struct {
	// GitCacheDir is the configured git cache directory. No method reads
	// it: Clone makes a fresh shallow clone from the remote every time.
	GitCacheDir string
}

// New builds a Provider with GitCacheDir set to gitCacheDir.
func New(gitCacheDir string) *Provider {
	return &Provider{GitCacheDir: gitCacheDir}
}

// CloneOptions parameterizes Clone.
type CloneOptions struct {
	RepoURL   string
	Token     string // injected into the HTTPS URL for auth, never logged
	Ref       string // branch/commit to check out; empty means default branch
	TargetDir string
}

// Clone checks out repoURL at ref into targetDir, injecting Token into
// the HTTPS URL's userinfo so the child git process authenticates. The
// token is on that git command line only; afterwards origin is reset
// to the tokenless URL, so the checkout an agent process later works
// in does not hold the credential.
func (p *Provider) Clone(opts CloneOptions) error {
	authURL, err := injectToken(opts.RepoURL, opts.Token)
	if err != nil {
		return fmt.Errorf("repoprovider: building authenticated URL: %w", err)
	}

	args := []string{"clone", "--depth", "1"}
	if opts.Ref != "" {
		args = append(args, "--branch", opts.Ref)
	}
	args = append(args, authURL, opts.TargetDir)

	cmd := exec.Command("git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone: %s: %w", scrubToken(string(out), opts.Token), err)
	}
	if authURL != opts.RepoURL {
		setURL := exec.Command("git", "remote", "set-url", "origin", opts.RepoURL)
		setURL.Dir = opts.TargetDir
		if out, err := setURL.CombinedOutput(); err != nil {
			return fmt.Errorf("git remote set-url: %s: %w", scrubToken(string(out), opts.Token), err)
		}
	}
	return nil
}

// injectToken rewrites an HTTPS remote URL to carry token as userinfo:
// https://<host>/... -> https://<token>@<host>/.... Other schemes pass
// through unchanged; an empty token means no injection.
func injectToken(repoURL, token string) (string, error) {
	if token == "" {
		return repoURL, nil
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "https" {
		return repoURL, nil
	}
	u.User = url.User(token)
	return u.String(), nil
}

func scrubToken(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}

// CreateBranch checks out a new branch in worktreeDir off its current HEAD.
func (p *Provider) CreateBranch(worktreeDir, branch string) error {
	cmd := exec.Command("git", "checkout", "-b", branch)
	cmd.Dir = worktreeDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout -b: %s: %w", out, err)
	}
	return nil
}

// CommitAll stages every change in worktreeDir and commits with message.
// Returns nil without committing if there is nothing staged.
func (p *Provider) CommitAll(worktreeDir, message string) error {
	addCmd := exec.Command("git", "add", "-A")
	addCmd.Dir = worktreeDir
	if out, err := addCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git add: %s: %w", out, err)
	}

	statusCmd := exec.Command("git", "diff", "--cached", "--quiet")
	statusCmd.Dir = worktreeDir
	if statusCmd.Run() == nil {
		return nil // nothing staged
	}

	commitCmd := exec.Command("git", "commit", "-m", message)
	commitCmd.Dir = worktreeDir
	if out, err := commitCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit: %s: %w", out, err)
	}
	return nil
}

// Push pushes branch to origin, injecting token into the remote URL for
// this invocation only (via -c http.extraheader, so the on-disk remote
// URL is never rewritten to contain a credential).
func (p *Provider) Push(worktreeDir, branch, token string) error {
	args := []string{"push", "-u", "origin", branch}
	cmd := exec.Command("git", args...)
	cmd.Dir = worktreeDir
	if token != "" {
		cmd.Args = append([]string{"git",
			"-c", "http.extraheader=AUTHORIZATION: basic " + basicAuth(token),
		}, args...)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git push: %s: %w", scrubToken(string(out), token), err)
	}
	return nil
}

func basicAuth(token string) string {
	return base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
}

// OpenPR opens a pull request for branch via the gh CLI and returns its
// number and URL.
func (p *Provider) OpenPR(worktreeDir, branch, title, body string) (int, string, error) {
	cmd := exec.Command("gh", "pr", "create",
		"--title", title,
		"--body", body,
		"--head", branch,
	)
	cmd.Dir = worktreeDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, "", fmt.Errorf("gh pr create: %s: %w", out, err)
	}
	prURL := strings.TrimSpace(string(out))
	return extractPRNumber(prURL), prURL, nil
}

// GetPRDiff returns the unified diff for an open pull request.
func (p *Provider) GetPRDiff(worktreeDir string, prNumber int) (string, error) {
	cmd := exec.Command("gh", "pr", "diff", strconv.Itoa(prNumber))
	cmd.Dir = worktreeDir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var prNumberPattern = regexp.MustCompile(`/pull/(\d+)`)

func extractPRNumber(prURL string) int {
	m := prNumberPattern.FindStringSubmatch(prURL)
	if len(m) != 2 {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// BranchSlug derives a git-branch-safe slug from a free-form title:
// lowercase, non-alphanumeric runs collapsed to a single dash, leading
// and trailing dashes stripped, truncated to 50 characters.
func BranchSlug(title string) string {
	lower := strings.ToLower(title)
	var b strings.Builder
	prevDash := false
	for _, r := range lower {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			prevDash = false
			continue
		}
		if !prevDash {
			b.WriteByte('-')
			prevDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 50 {
		slug = strings.TrimRight(slug[:50], "-")
	}
	return slug
}
