// Package fsutil provides file system utility functions.
package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FindFilesByExtension returns the files under rootPath whose extension is
// ext, in lexical order. A rootPath naming a single file yields that file if
// it matches. A missing rootPath yields nothing.
func FindFilesByExtension(rootPath string, ext string) ([]string, error) {
	if ext == "" {
		panic("extension must not be empty")
	}

	info, err := os.Stat(rootPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if filepath.Ext(rootPath) == ext {
			return []string{rootPath}, nil
		}
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ext {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
