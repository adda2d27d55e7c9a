package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"rulerunner/internal/queue"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCreatableDirectory passes when path is an accessible directory or can
// be created under its nearest existing ancestor.
func CheckCreatableDirectory(name, path string) Result {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	dir := abs
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: no existing ancestor)", path)}
		}
		dir = parent
	}
	result := CheckDirectoryAccess(name, dir)
	if result.Passed && dir != abs {
		result.Detail = fmt.Sprintf("%s (will be created under %s)", abs, dir)
	}
	return result
}

// CheckStore verifies the local root of a queue location. Remote stores are
// reported as skipped.
func CheckStore(name, location string) Result {
	root := queue.FilesystemRoot(location)
	if root == "" {
		backend, err := queue.OpenBackend(location)
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", location, err)}
		}
		_ = backend.Close()
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (remote, not checked)", location)}
	}
	return CheckCreatableDirectory(name, root)
}

// CheckCommand verifies that binary resolves to an executable.
func CheckCommand(name, binary string) Result {
	path, err := exec.LookPath(binary)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", binary, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}
