package testutil

import (
	"os"
	"path/filepath"
)

/*
	Run fn with a fresh temporary directory, removed afterwards.
	The path is absolute with symlinks resolved, so it compares
	equal to whatever git reports back about it.
*/
func WithTmpdir(fn func(tmpDir string)) {
	dir, err := os.MkdirTemp("", "hit-test-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)
	dir, err = filepath.EvalSymlinks(dir)
	if err != nil {
		panic(err)
	}
	fn(dir)
}
