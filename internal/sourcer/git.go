package sourcer

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
)

// GitLocation is a file in a git repository.
type GitLocation struct {
	Remote string
	Path   string
	Ref    string
	Host   string
}

// ParseGitURL splits git://host/org/repo.git/path/to/file.yaml?ref=main into
// an https remote, the path inside the repository and an optional branch.
func ParseGitURL(rawURL string) (*GitLocation, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url %s: %w", rawURL, err)
	}
	if u.Scheme != "git" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	repo, file, ok := strings.Cut(u.Path, ".git/")
	if !ok || repo == "" || file == "" {
		return nil, fmt.Errorf("git url %s must name a file inside a .git repository", rawURL)
	}

	return &GitLocation{
		Remote: fmt.Sprintf("https://%s%s.git", u.Host, repo),
		Path:   file,
		Ref:    u.Query().Get("ref"),
		Host:   u.Hostname(),
	}, nil
}

// GitFetcher fetches files from git repositories by cloning them into memory.
type GitFetcher struct {
	tokens map[string]string
}

// NewGitFetcher creates a GitFetcher that authenticates to each host in
// tokens with the matching token.
func NewGitFetcher(tokens map[string]string) *GitFetcher {
	return &GitFetcher{
		tokens: tokens,
	}
}

// Fetch clones the repository named by rawURL and returns the file it points
// to. The state is the hash of the commit the file was read at.
func (f *GitFetcher) Fetch(rawURL string) ([]byte, string, error) {
	loc, err := ParseGitURL(rawURL)
	if err != nil {
		return nil, "", err
	}

	opts := &git.CloneOptions{
		URL:          loc.Remote,
		Depth:        1,
		SingleBranch: true,
	}
	if loc.Ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(loc.Ref)
	}
	if token, ok := f.tokens[loc.Host]; ok {
		opts.Auth = &githttp.BasicAuth{Username: "drip", Password: token}
	}

	fs := memfs.New()
	repo, err := git.Clone(memory.NewStorage(), fs, opts)
	if err != nil {
		return nil, "", fmt.Errorf("failed to clone %s: %w", loc.Remote, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve head of %s: %w", loc.Remote, err)
	}

	file, err := fs.Open(loc.Path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s in %s: %w", loc.Path, loc.Remote, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", loc.Path, err)
	}

	return data, head.Hash().String(), nil
}
