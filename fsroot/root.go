// Package fsroot confines filesystem access to a single directory tree.
//
// Clients only ever see virtual, slash-separated paths rooted at "/". Every
// resolution is checked twice: once lexically on the cleaned absolute host
// path, and once after symlinks are resolved, so neither ".." segments nor
// links pointing out of the tree can escape.
package fsroot

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"framedftp/ftperr"
)

// Root is an immutable filesystem boundary.
type Root struct {
	dir string
}

// New returns a Root for dir. The directory must exist.
func New(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, ftperr.Wrap(ftperr.KindIO, "root", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, ftperr.FromFS("root", err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, ftperr.FromFS("root", err)
	}
	if !info.IsDir() {
		return nil, ftperr.Newf(ftperr.KindIO, "root", "%s is not a directory", dir)
	}
	return &Root{dir: real}, nil
}

// Dir returns the canonical host directory of the root.
func (r *Root) Dir() string {
	return r.dir
}

// Sub returns a Root confined to the virtual directory home inside r.
func (r *Root) Sub(home string) (*Root, error) {
	if home == "" || home == "/" {
		return r, nil
	}
	_, host, err := r.ResolveDir("/", home)
	if err != nil {
		return nil, err
	}
	return &Root{dir: host}, nil
}

// within reports whether p is r.dir or one of its descendants.
func (r *Root) within(p string) bool {
	rel, err := filepath.Rel(r.dir, p)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// virtual converts a host path inside the root to its client-facing form.
func (r *Root) virtual(host string) string {
	rel, err := filepath.Rel(r.dir, host)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}

// lexical joins name onto cwd and rejects anything outside the root before
// touching the filesystem.
func (r *Root) lexical(cwd, name string) (string, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return "", ftperr.New(ftperr.KindPathTraversal, "resolve", "path contains NUL byte")
	}
	name = strings.ReplaceAll(name, "\\", "/")

	var joined string
	if path.IsAbs(name) {
		joined = filepath.Join(r.dir, filepath.FromSlash(name))
	} else {
		joined = filepath.Join(r.dir, filepath.FromSlash(cwd), filepath.FromSlash(name))
	}

	if !r.within(joined) {
		return "", ftperr.Newf(ftperr.KindPathTraversal, "resolve", "%q escapes the root", name)
	}
	return joined, nil
}

// canonical resolves symlinks in host and re-checks confinement.
func (r *Root) canonical(host, name string) (string, error) {
	real, err := filepath.EvalSymlinks(host)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ftperr.Newf(ftperr.KindNotFound, "resolve", "%q does not exist", name)
		}
		return "", ftperr.FromFS("resolve", err)
	}
	if !r.within(real) {
		return "", ftperr.Newf(ftperr.KindPathTraversal, "resolve", "%q links outside the root", name)
	}
	return real, nil
}

// Resolve maps name, relative to the virtual directory cwd, to an existing
// path. It returns the virtual and host forms.
func (r *Root) Resolve(cwd, name string) (string, string, error) {
	joined, err := r.lexical(cwd, name)
	if err != nil {
		return "", "", err
	}
	real, err := r.canonical(joined, name)
	if err != nil {
		return "", "", err
	}
	return r.virtual(real), real, nil
}

// ResolveDir is Resolve restricted to directories.
func (r *Root) ResolveDir(cwd, name string) (string, string, error) {
	v, host, err := r.Resolve(cwd, name)
	if err != nil {
		return "", "", err
	}
	info, err := os.Stat(host)
	if err != nil {
		return "", "", ftperr.FromFS("stat", err)
	}
	if !info.IsDir() {
		return "", "", ftperr.Newf(ftperr.KindNotFound, "resolve", "%q is not a directory", name)
	}
	return v, host, nil
}

// ResolveFile is Resolve restricted to regular files.
func (r *Root) ResolveFile(cwd, name string) (string, string, os.FileInfo, error) {
	v, host, err := r.Resolve(cwd, name)
	if err != nil {
		return "", "", nil, err
	}
	info, err := os.Stat(host)
	if err != nil {
		return "", "", nil, ftperr.FromFS("stat", err)
	}
	if info.IsDir() {
		return "", "", nil, ftperr.Newf(ftperr.KindNotFound, "resolve", "%q is a directory", name)
	}
	return v, host, info, nil
}

// ResolveTarget resolves a path that is about to be created or overwritten.
// The parent directory must exist; the target itself may not. An existing
// target must not be a directory, and an existing symlink must stay inside
// the root.
func (r *Root) ResolveTarget(cwd, name string) (string, string, error) {
	joined, err := r.lexical(cwd, name)
	if err != nil {
		return "", "", err
	}
	if joined == r.dir {
		return "", "", ftperr.New(ftperr.KindIO, "resolve", "target is the root directory")
	}

	parent, err := r.canonical(filepath.Dir(joined), path.Dir(name))
	if err != nil {
		return "", "", err
	}
	host := filepath.Join(parent, filepath.Base(joined))

	info, err := os.Lstat(host)
	switch {
	case os.IsNotExist(err):
		return r.virtual(host), host, nil
	case err != nil:
		return "", "", ftperr.FromFS("stat", err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		real, err := filepath.EvalSymlinks(host)
		if err != nil && !os.IsNotExist(err) {
			return "", "", ftperr.FromFS("resolve", err)
		}
		if err == nil {
			if !r.within(real) {
				return "", "", ftperr.Newf(ftperr.KindPathTraversal, "resolve", "%q links outside the root", name)
			}
			host = real
			if info, err = os.Stat(host); err != nil {
				return "", "", ftperr.FromFS("stat", err)
			}
		}
	}
	if info.IsDir() {
		return "", "", ftperr.Newf(ftperr.KindIO, "resolve", "%q is a directory", name)
	}
	return r.virtual(host), host, nil
}

// ReadDir lists the directory name relative to cwd, sorted by name.
func (r *Root) ReadDir(cwd, name string) (string, []fs.FileInfo, error) {
	v, host, err := r.ResolveDir(cwd, name)
	if err != nil {
		return "", nil, err
	}
	entries, err := os.ReadDir(host)
	if err != nil {
		return "", nil, ftperr.FromFS("readdir", err)
	}

	infos := make([]fs.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return v, infos, nil
}

// Mkdir creates a single directory.
func (r *Root) Mkdir(cwd, name string) (string, error) {
	joined, err := r.lexical(cwd, name)
	if err != nil {
		return "", err
	}
	parent, err := r.canonical(filepath.Dir(joined), path.Dir(name))
	if err != nil {
		return "", err
	}
	host := filepath.Join(parent, filepath.Base(joined))
	if err := os.Mkdir(host, 0755); err != nil {
		return "", ftperr.FromFS("mkdir", err)
	}
	return r.virtual(host), nil
}

// Remove deletes a regular file.
func (r *Root) Remove(cwd, name string) (string, error) {
	v, host, _, err := r.ResolveFile(cwd, name)
	if err != nil {
		return "", err
	}
	if err := os.Remove(host); err != nil {
		return "", ftperr.FromFS("remove", err)
	}
	return v, nil
}
