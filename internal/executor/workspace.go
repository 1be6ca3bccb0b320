package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// localPathLocks serializes concurrent builds that share the same
// local_path checkout. The source schema allows max_concurrent>1 with
// local_path configured but never defines what should happen when two
// builds land on the same path at once; without this, a second build's
// "git fetch" can race the first build's in-flight checkout and corrupt
// both working trees.
var localPathLocks sync.Map // map[string]*sync.Mutex

func lockForPath(path string) *sync.Mutex {
	v, _ := localPathLocks.LoadOrStore(path, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// workspace is an acquired checkout ready for step execution.
type workspace struct {
	dir     string
	isFresh bool // true if this is a throwaway clone that must be removed afterward
	unlock  func()
}

// acquireWorkspace prepares a checkout of repoURL at sha for a build.
// When localPath is set, it fast-forwards the existing checkout under a
// per-path lock instead of cloning fresh; a fast-forward failure is not
// fatal to the build — it's logged and the build continues against
// whatever state the checkout is already in. Otherwise it performs a
// shallow clone (depth=1) into a temp directory and checks out sha if
// it's distinct from HEAD. A clone failure is fatal to the build.
func acquireWorkspace(ctx context.Context, repoURL, sha, localPath string, logger *zap.Logger) (*workspace, error) {
	if localPath != "" {
		mu := lockForPath(localPath)
		mu.Lock()
		if err := fastForward(ctx, localPath, sha); err != nil {
			logger.Warn("executor: fast-forward of local_path failed, continuing on current checkout",
				zap.String("local_path", localPath), zap.Error(err))
		}
		return &workspace{dir: localPath, isFresh: false, unlock: mu.Unlock}, nil
	}

	dir, err := os.MkdirTemp("", "centrix-ci-build-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}

	if err := shallowClone(ctx, repoURL, dir); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("clone repository: %w", err)
	}

	if len(sha) >= 7 {
		head, err := currentHead(ctx, dir)
		if err == nil && head != sha {
			if err := checkoutSHA(ctx, dir, sha); err != nil {
				_ = os.RemoveAll(dir)
				return nil, fmt.Errorf("checkout %s: %w", sha, err)
			}
		}
	}

	return &workspace{dir: dir, isFresh: true, unlock: func() {}}, nil
}

// cleanup removes a fresh clone's temp directory (best-effort) and
// releases any local_path lock. Cleanup failures are logged by the
// caller, never treated as build failures.
func (w *workspace) cleanup() error {
	defer w.unlock()
	if !w.isFresh {
		return nil
	}
	return os.RemoveAll(w.dir)
}

func gitEnv() []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		"LANG=C",
		"LC_ALL=C",
		"GIT_TERMINAL_PROMPT=0",
	}
}

func shallowClone(ctx context.Context, repoURL, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth=1", repoURL, dir)
	cmd.Env = gitEnv()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, out)
	}
	return nil
}

func checkoutSHA(ctx context.Context, dir, sha string) error {
	fetch := exec.CommandContext(ctx, "git", "fetch", "--depth=1", "origin", sha)
	fetch.Dir = dir
	fetch.Env = gitEnv()
	if out, err := fetch.CombinedOutput(); err != nil {
		return fmt.Errorf("fetch %s: %w: %s", sha, err, out)
	}

	checkout := exec.CommandContext(ctx, "git", "checkout", sha)
	checkout.Dir = dir
	checkout.Env = gitEnv()
	if out, err := checkout.CombinedOutput(); err != nil {
		return fmt.Errorf("checkout %s: %w: %s", sha, err, out)
	}
	return nil
}

func fastForward(ctx context.Context, dir, sha string) error {
	fetch := exec.CommandContext(ctx, "git", "fetch", "origin")
	fetch.Dir = dir
	fetch.Env = gitEnv()
	if out, err := fetch.CombinedOutput(); err != nil {
		return fmt.Errorf("fetch: %w: %s", err, out)
	}
	return checkoutSHA(ctx, dir, sha)
}

func currentHead(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = dir
	cmd.Env = gitEnv()
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	head := string(out)
	if len(head) > 0 && head[len(head)-1] == '\n' {
		head = head[:len(head)-1]
	}
	return head, nil
}
