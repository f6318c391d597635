// Package index maintains a local mirror of the registry index repository
// and resolves crate version lines from it.
//
// The registry index is a git repository of JSON-lines files, one file per
// crate, sharded by name length and prefix. Sync keeps the mirror current;
// lookups never touch the network.
package index

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"git.home.luguber.info/inful/cratedocs/internal/config"
	"git.home.luguber.info/inful/cratedocs/internal/crate"
	"git.home.luguber.info/inful/cratedocs/internal/logfields"
	"git.home.luguber.info/inful/cratedocs/internal/metrics"
	"git.home.luguber.info/inful/cratedocs/internal/retry"
)

// ErrCrateNotFound is returned when the index has no file for a crate.
var ErrCrateNotFound = errors.New("cratedocs: crate not in index")

// ErrNoVersions is returned when a crate's index file has no usable
// (non-yanked) version line.
var ErrNoVersions = errors.New("cratedocs: no versions available")

// Release is one version line from a crate's index file.
type Release struct {
	Name    string `json:"name"`
	Version string `json:"vers"`
	Yanked  bool   `json:"yanked"`
}

// Mirror is a local clone of the registry index.
type Mirror struct {
	url      string
	dir      string
	policy   retry.Policy
	recorder metrics.Recorder
}

// NewMirror creates a mirror rooted at cfg.Dir tracking cfg.URL.
func NewMirror(cfg config.IndexConfig) *Mirror {
	return &Mirror{
		url:      cfg.URL,
		dir:      cfg.Dir,
		policy:   retry.DefaultPolicy(),
		recorder: metrics.NoopRecorder{},
	}
}

// ConfigureRetry sets the backoff policy for sync operations.
func (m *Mirror) ConfigureRetry(policy retry.Policy) { m.policy = policy }

// SetRecorder injects a metrics recorder (optional).
func (m *Mirror) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	m.recorder = r
}

// Dir returns the mirror's working directory.
func (m *Mirror) Dir() string { return m.dir }

// Sync clones the index if the mirror does not exist yet, otherwise pulls.
// It returns the names of crates whose index files changed in the pull, so
// callers can react to new releases. The initial clone reports no changes.
// Transient failures are retried per the configured policy.
func (m *Mirror) Sync(ctx context.Context) ([]string, error) {
	start := time.Now()
	changed, err := m.syncWithRetry(ctx)
	m.recorder.ObserveIndexSyncDuration(time.Since(start), err == nil)
	return changed, err
}

func (m *Mirror) syncWithRetry(ctx context.Context) ([]string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		changed, err := m.syncOnce(ctx)
		if err == nil {
			return changed, nil
		}
		lastErr = err
		if attempt >= m.policy.MaxRetries {
			return nil, fmt.Errorf("sync index after %d attempts: %w", attempt+1, lastErr)
		}
		delay := m.policy.Delay(attempt + 1)
		slog.Warn("Index sync failed, retrying",
			logfields.Path(m.dir),
			"attempt", attempt+1,
			"delay", delay,
			logfields.Error(lastErr),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Mirror) syncOnce(ctx context.Context) ([]string, error) {
	if _, err := os.Stat(filepath.Join(m.dir, ".git")); os.IsNotExist(err) {
		slog.Info("Cloning registry index", "url", m.url, logfields.Path(m.dir))
		_, err := git.PlainCloneContext(ctx, m.dir, false, &git.CloneOptions{
			URL:          m.url,
			SingleBranch: true,
		})
		if err != nil {
			return nil, fmt.Errorf("clone index: %w", err)
		}
		return nil, nil
	}

	repo, err := git.PlainOpen(m.dir)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	oldHead, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("worktree: %w", err)
	}
	err = wt.PullContext(ctx, &git.PullOptions{SingleBranch: true})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pull index: %w", err)
	}
	newHead, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	changed, err := m.changedCrates(repo, oldHead.Hash(), newHead.Hash())
	if err != nil {
		return nil, err
	}
	slog.Debug("Registry index updated", logfields.Path(m.dir), "changed_crates", len(changed))
	return changed, nil
}

// changedCrates diffs two index commits and returns the crate names whose
// files were added or modified, deduplicated in tree order.
func (m *Mirror) changedCrates(repo *git.Repository, oldHash, newHash plumbing.Hash) ([]string, error) {
	oldCommit, err := repo.CommitObject(oldHash)
	if err != nil {
		return nil, fmt.Errorf("old commit: %w", err)
	}
	newCommit, err := repo.CommitObject(newHash)
	if err != nil {
		return nil, fmt.Errorf("new commit: %w", err)
	}
	oldTree, err := oldCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("old tree: %w", err)
	}
	newTree, err := newCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("new tree: %w", err)
	}

	changes, err := object.DiffTree(oldTree, newTree)
	if err != nil {
		return nil, fmt.Errorf("diff index trees: %w", err)
	}

	seen := make(map[string]struct{})
	var names []string
	for _, change := range changes {
		// Deletions leave To.Name empty; there is nothing to build for those.
		if change.To.Name == "" {
			continue
		}
		name := path.Base(change.To.Name)
		// Registry housekeeping files are not crates.
		if name == "config.json" || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}

// Lookup returns all version lines for a crate, oldest first, as stored in
// the index file. The name is canonicalized before sharding.
func (m *Mirror) Lookup(name string) ([]Release, error) {
	rel := crate.PathInIndex(name)
	if rel == "" {
		return nil, ErrCrateNotFound
	}

	file, err := os.Open(filepath.Join(m.dir, filepath.FromSlash(rel)))
	if os.IsNotExist(err) {
		return nil, ErrCrateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	var releases []Release
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Release
		if err := json.Unmarshal(line, &r); err != nil {
			// Skip unparseable lines rather than failing the lookup;
			// the index format can grow fields and even whole line shapes.
			continue
		}
		releases = append(releases, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}
	return releases, nil
}

// LatestVersion returns the newest non-yanked release of a crate (the last
// usable line in its index file).
func (m *Mirror) LatestVersion(name string) (Release, error) {
	releases, err := m.Lookup(name)
	if err != nil {
		return Release{}, err
	}
	for i := len(releases) - 1; i >= 0; i-- {
		if !releases[i].Yanked {
			return releases[i], nil
		}
	}
	return Release{}, ErrNoVersions
}
