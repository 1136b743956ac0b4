// Package plist provides read-modify-write access to property-list files.
package plist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
	hplist "howett.net/plist"

	"github.com/privacyservices/psm/pkg/types"
)

// File is a property list whose root is a dictionary. Changes are kept in
// memory until Save.
type File struct {
	path   string
	format int
	root   map[string]any
}

// Open reads path. A missing file yields an empty dictionary that is saved
// in binary format.
func Open(path string) (*File, error) {
	f := &File{path: path, format: hplist.BinaryFormat, root: map[string]any{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plist %s: %w", path, err)
	}
	if len(data) == 0 {
		return f, nil
	}
	format, err := hplist.Unmarshal(data, &f.root)
	if err != nil {
		return nil, fmt.Errorf("parse plist %s: %w", path, err)
	}
	if f.root == nil {
		f.root = map[string]any{}
	}
	f.format = format
	return f, nil
}

// ReadDict decodes the dictionary stored at path.
func ReadDict(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plist %s: %w", path, err)
	}
	var out map[string]any
	if _, err := hplist.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse plist %s: %w", path, err)
	}
	return out, nil
}

// Dict returns the dictionary stored under key.
func (f *File) Dict(key string) (map[string]any, bool) {
	d, ok := f.root[key].(map[string]any)
	return d, ok
}

// Set replaces the value stored under key.
func (f *File) Set(key string, v any) { f.root[key] = v }

// SetDictValue sets key inside the dictionary stored under dictKey, creating
// the dictionary (or replacing a non-dictionary value) as needed.
func (f *File) SetDictValue(dictKey, key string, v any) {
	d, ok := f.root[dictKey].(map[string]any)
	if !ok {
		d = map[string]any{}
		f.root[dictKey] = d
	}
	d[key] = v
}

// Delete removes key and reports whether it was present.
func (f *File) Delete(key string) bool {
	_, ok := f.root[key]
	delete(f.root, key)
	return ok
}

// Save writes the dictionary back in its original format. The file is
// replaced atomically and keeps its previous mode and owner.
func (f *File) Save() error {
	data, err := hplist.Marshal(f.root, f.format)
	if err != nil {
		return fmt.Errorf("%w: encode plist %s: %v", types.ErrIO, f.path, err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", types.ErrIO, dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("%w: create temp for %s: %v", types.ErrIO, f.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %s: %v", types.ErrIO, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", types.ErrIO, tmpName, err)
	}

	mode := os.FileMode(0o644)
	var st unix.Stat_t
	if err := unix.Stat(f.path, &st); err == nil {
		mode = os.FileMode(st.Mode & 0o777)
		// Only root can give the file away; otherwise it stays ours.
		if err := os.Chown(tmpName, int(st.Uid), int(st.Gid)); err != nil && !errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: chown %s: %v", types.ErrIO, tmpName, err)
		}
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("%w: chmod %s: %v", types.ErrIO, tmpName, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("%w: replace %s: %v", types.ErrIO, f.path, err)
	}
	return nil
}
