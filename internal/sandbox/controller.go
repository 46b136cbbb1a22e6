// Package sandbox owns the lifecycle of one ephemeral build/run process per
// connected client. A run mounts the client's current file tree into a
// scratch directory, spawns an install step, then a start step, and waits
// for the started server to announce a listening address.
package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/devsync-io/devsync/internal/errors"
	"github.com/devsync-io/devsync/internal/metrics"
	"github.com/devsync-io/devsync/internal/models"
)

// Status is the run session lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusMounting   Status = "mounting"
	StatusInstalling Status = "installing"
	StatusStarting   Status = "starting"
	StatusReady      Status = "ready"
	StatusCrashed    Status = "crashed"
	StatusKilled     Status = "killed"
)

// Terminal reports whether the session can never transition again.
func (s Status) Terminal() bool {
	return s == StatusCrashed || s == StatusKilled
}

// RunSession is a snapshot of one build/run attempt.
type RunSession struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Status    Status `json:"status"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Config holds sandbox execution settings.
type Config struct {
	// Root is the parent directory for scratch workspaces. Empty means the
	// system temp dir.
	Root string
	// InstallCmd and StartCmd are shell-less command lines, split on
	// whitespace (e.g. "npm install").
	InstallCmd string
	StartCmd   string
	// ReadyTimeout bounds the wait for the started server's address.
	ReadyTimeout time.Duration
}

// Controller drives run sessions for a single connected client. At most one
// non-terminal session exists at a time: Run always tears down the previous
// process before mounting, so two install/start sequences never touch the
// same filesystem concurrently.
type Controller struct {
	cfg      Config
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	onLog    func(sessionID, line string)
	onStatus func(RunSession)

	runMu sync.Mutex // serializes Run/Close supersession
	mu    sync.Mutex // guards current + closed
	current *session
	closed  bool
}

type session struct {
	snap   RunSession
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// readyPattern matches the address a dev server prints once it is serving.
var readyPattern = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1?\])(?::\d+)?[^\s"']*`)

// New creates a controller for one client. onLog receives raw process
// output lines; onStatus receives every state transition. Both may be nil.
func New(cfg Config, m *metrics.Metrics, logger zerolog.Logger, onLog func(sessionID, line string), onStatus func(RunSession)) *Controller {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Minute
	}
	return &Controller{
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With().Str("component", "sandbox").Logger(),
		onLog:    onLog,
		onStatus: onStatus,
	}
}

// Current returns a snapshot of the latest session, or an Idle session when
// nothing has run yet.
func (c *Controller) Current() RunSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return RunSession{Status: StatusIdle}
	}
	return c.current.snapshot()
}

// Run supersedes any in-flight session and starts a new one for the given
// tree. The previous process is fully torn down (its session reaches Killed
// or another terminal state) before the new session begins mounting.
func (c *Controller) Run(projectID string, tree models.FileTree) (RunSession, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return RunSession{}, fmt.Errorf("sandbox controller closed")
	}
	prev := c.current
	c.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	if err := tree.Validate(); err != nil {
		return RunSession{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		snap: RunSession{
			ID:        uuid.New().String(),
			ProjectID: projectID,
			Status:    StatusIdle,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		close(s.done)
		return RunSession{}, fmt.Errorf("sandbox controller closed")
	}
	c.current = s
	c.mu.Unlock()

	go c.lifecycle(runCtx, s, tree.Clone())

	return s.snapshot(), nil
}

// Close tears down any in-flight session. Called when the owning connection
// disconnects so sandbox processes do not leak.
func (c *Controller) Close() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.Lock()
	c.closed = true
	cur := c.current
	c.mu.Unlock()

	if cur != nil {
		cur.cancel()
		<-cur.done
	}
}

func (c *Controller) lifecycle(ctx context.Context, s *session, tree models.FileTree) {
	defer close(s.done)
	defer s.cancel()

	c.transition(s, StatusMounting, "", nil)

	dir, err := c.mount(tree)
	if dir != "" {
		defer os.RemoveAll(dir)
	}
	if err != nil {
		c.fail(ctx, s, apperrors.NewSandboxError(apperrors.StageMount, err))
		return
	}

	c.transition(s, StatusInstalling, "", nil)
	if err := c.runStep(ctx, s, dir, c.cfg.InstallCmd); err != nil {
		c.fail(ctx, s, apperrors.NewSandboxError(apperrors.StageInstall, err))
		return
	}

	c.transition(s, StatusStarting, "", nil)
	url, exited, err := c.startServer(ctx, s, dir)
	if err != nil {
		c.fail(ctx, s, apperrors.NewSandboxError(apperrors.StageStart, err))
		return
	}

	c.transition(s, StatusReady, url, nil)

	// Hold the session open until the server dies. Supersession and
	// disconnect cancel ctx; anything else is a crash.
	exitErr := <-exited
	if ctx.Err() != nil {
		c.transition(s, StatusKilled, "", nil)
		return
	}
	if exitErr == nil {
		exitErr = fmt.Errorf("server exited unexpectedly")
	}
	c.transition(s, StatusCrashed, "", apperrors.NewSandboxError(apperrors.StageStart, exitErr))
}

// mount writes the tree into a fresh scratch directory.
func (c *Controller) mount(tree models.FileTree) (string, error) {
	root := c.cfg.Root
	if root == "" {
		root = os.TempDir()
	}
	dir, err := os.MkdirTemp(root, "devsync-sandbox-")
	if err != nil {
		return "", fmt.Errorf("creating workspace: %w", err)
	}

	for path, entry := range tree {
		target := filepath.Join(dir, filepath.FromSlash(path))
		// Validate() already rejected traversal; this is the invariant check.
		if !strings.HasPrefix(target, dir+string(os.PathSeparator)) {
			return dir, fmt.Errorf("path %q escapes workspace", path)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return dir, fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, []byte(entry.File.Contents), 0o644); err != nil {
			return dir, fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return dir, nil
}

// runStep executes one command to completion, streaming output.
func (c *Controller) runStep(ctx context.Context, s *session, dir, cmdline string) error {
	parts := strings.Fields(cmdline)
	if len(parts) == 0 {
		return fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", parts[0], err)
	}

	c.streamOutput(s, stdout, nil)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w", parts[0], err)
	}
	return nil
}

// startServer spawns the start command and waits for a ready address. The
// process keeps running after this returns; the caller consumes the exited
// channel to observe its death.
func (c *Controller) startServer(ctx context.Context, s *session, dir string) (string, <-chan error, error) {
	parts := strings.Fields(c.cfg.StartCmd)
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("empty start command")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return "", nil, fmt.Errorf("starting %s: %w", parts[0], err)
	}

	ready := make(chan string, 1)
	exited := make(chan error, 1)
	go func() {
		c.streamOutput(s, stdout, ready)
		exited <- cmd.Wait()
	}()

	select {
	case url := <-ready:
		return url, exited, nil
	case err := <-exited:
		if err == nil {
			err = fmt.Errorf("server exited before becoming ready")
		}
		return "", nil, err
	case <-ctx.Done():
		<-exited
		return "", nil, ctx.Err()
	case <-time.After(c.cfg.ReadyTimeout):
		// Kill only the process: canceling the session context would make
		// this look like a supersession (Killed) instead of a crash.
		_ = cmd.Process.Kill()
		<-exited
		return "", nil, fmt.Errorf("timed out after %s waiting for server address", c.cfg.ReadyTimeout)
	}
}

func (c *Controller) streamOutput(s *session, r io.Reader, ready chan<- string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	sent := false
	for scanner.Scan() {
		line := scanner.Text()
		if c.onLog != nil {
			c.onLog(s.snapshot().ID, line)
		}
		if ready != nil && !sent {
			if url := readyPattern.FindString(line); url != "" {
				ready <- url
				sent = true
			}
		}
	}
}

// fail marks the session Killed when the context was canceled (supersession
// or disconnect), Crashed otherwise.
func (c *Controller) fail(ctx context.Context, s *session, err error) {
	if ctx.Err() != nil {
		c.transition(s, StatusKilled, "", nil)
		return
	}
	c.transition(s, StatusCrashed, "", err)
}

func (c *Controller) transition(s *session, status Status, url string, err error) {
	s.mu.Lock()
	if s.snap.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.snap.Status = status
	s.snap.URL = url
	if err != nil {
		s.snap.Error = err.Error()
	}
	snap := s.snap
	s.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordSandboxTransition(string(status))
	}
	c.logger.Debug().
		Str("run_id", snap.ID).
		Str("project_id", snap.ProjectID).
		Str("status", string(status)).
		Str("url", snap.URL).
		Msg("run session transition")

	if c.onStatus != nil {
		c.onStatus(snap)
	}
}

func (s *session) snapshot() RunSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
