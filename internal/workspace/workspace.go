// Package workspace finds the directory holding ergo's state: config, caches
// and log.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
)

// DirName is the state directory name inside a project or home directory.
const DirName = ".ergo"

// HomeEnv overrides discovery.
const HomeEnv = "ERGO_HOME"

// Source says how a location was chosen.
type Source string

const (
	SourceEnv     Source = "env"
	SourceProject Source = "project"
	SourceHome    Source = "home"
)

// Location is a resolved state directory.
type Location struct {
	Root   string
	Source Source
}

// Options supplies the process facts discovery depends on.
type Options struct {
	Cwd     string
	Getenv  func(string) string
	HomeDir func() (string, error)
}

// Locate picks $ERGO_HOME, then the .ergo directory at the root of the
// enclosing git worktree when it exists, then ~/.ergo.
func Locate(opts Options) (Location, error) {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.HomeDir == nil {
		opts.HomeDir = os.UserHomeDir
	}
	if v := opts.Getenv(HomeEnv); v != "" {
		abs, err := filepath.Abs(v)
		if err != nil {
			return Location{}, fmt.Errorf("%s: %w", HomeEnv, err)
		}
		return Location{Root: abs, Source: SourceEnv}, nil
	}
	if opts.Cwd != "" {
		if dir, ok := projectDir(opts.Cwd); ok {
			return Location{Root: dir, Source: SourceProject}, nil
		}
	}
	home, err := opts.HomeDir()
	if err != nil {
		return Location{}, fmt.Errorf("locate home directory: %w", err)
	}
	return Location{Root: filepath.Join(home, DirName), Source: SourceHome}, nil
}

// projectDir returns <worktree>/.ergo when cwd is inside a git worktree that
// already has one.
func projectDir(cwd string) (string, bool) {
	repo, err := git.PlainOpenWithOptions(cwd, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", false
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", false
	}
	dir := filepath.Join(wt.Filesystem.Root(), DirName)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

// Ensure creates the state directory.
func (l Location) Ensure() error {
	if err := os.MkdirAll(l.Root, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create state directory: %w", err)
	}
	return nil
}

func (l Location) ConfigPath() string { return filepath.Join(l.Root, "config.cue") }
func (l Location) LogPath() string    { return filepath.Join(l.Root, "ergo.log") }
