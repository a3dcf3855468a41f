package sandbox

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/flarebyte/ergo/internal/permission"
)

var errDanglingLink = errors.New("dangling symbolic link")

// resolvePath returns the absolute path p refers to once symbolic links are
// followed. A missing leaf is resolved through its parent so new files can be
// checked; a leaf that is a link to nowhere is refused.
func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	if fi, err := os.Lstat(abs); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return "", errDanglingLink
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return abs, nil
	}
	return filepath.Join(parent, filepath.Base(abs)), nil
}

// resolvedPathGrants copies the read and write grants with their targets
// resolved the same way as the paths they are matched against.
func resolvedPathGrants(grants permission.Set) permission.Set {
	var out permission.Set
	for _, g := range grants {
		if g.Kind != permission.KindRead && g.Kind != permission.KindWrite {
			continue
		}
		if g.Target != permission.Any {
			if resolved, err := resolvePath(g.Target); err == nil {
				g.Target = resolved
			}
		}
		out = append(out, g)
	}
	return out
}

// requirePath raises a denial unless the resolved path lies inside a grant of
// kind, and returns the resolved path for the operation itself.
func (rt *runtime) requirePath(kind permission.Kind, path string) string {
	resolved, err := resolvePath(path)
	if err != nil || !rt.paths.Allows(kind, resolved) {
		rt.deny(kind, path)
	}
	return resolved
}
