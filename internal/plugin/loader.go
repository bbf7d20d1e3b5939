package plugin

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// LoadError describes a plugin directory entry that was skipped.
type LoadError struct {
	Path   string
	Reason string
}

func (e LoadError) Error() string {
	return fmt.Sprintf("plugin %s: %s", e.Path, e.Reason)
}

// Load registers builtins, then every executable regular file in dir
// as a subprocess plugin named after the file without its extension.
// A missing dir just means no external plugins.  Entries that cannot
// be used are skipped and reported; they never abort the scan.
func Load(dir string, builtins ...Plugin) (*Registry, []LoadError) {
	reg := NewRegistry(builtins...)
	if dir == "" {
		return reg, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return reg, nil
		}
		return reg, []LoadError{{Path: dir, Reason: err.Error()}}
	}

	var skipped []LoadError
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			skipped = append(skipped, LoadError{Path: path, Reason: "is a directory"})
			continue
		}
		info, err := e.Info()
		if err != nil {
			skipped = append(skipped, LoadError{Path: path, Reason: err.Error()})
			continue
		}
		if !info.Mode().IsRegular() {
			skipped = append(skipped, LoadError{Path: path, Reason: "not a regular file"})
			continue
		}
		if !isExecutable(info) {
			skipped = append(skipped, LoadError{Path: path, Reason: "not executable"})
			continue
		}

		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if name == "" {
			skipped = append(skipped, LoadError{Path: path, Reason: "empty plugin name"})
			continue
		}
		if !reg.add(&Executable{name: name, path: path}) {
			skipped = append(skipped, LoadError{Path: path, Reason: fmt.Sprintf("duplicate plugin name %q", name)})
		}
	}
	return reg, skipped
}

func isExecutable(info fs.FileInfo) bool {
	if runtime.GOOS == "windows" {
		switch strings.ToLower(filepath.Ext(info.Name())) {
		case ".exe", ".bat", ".cmd", ".com":
			return true
		}
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// Executable runs an external program as a plugin.  Its standard output
// (without the trailing newline) is the result; a non-zero exit is an
// execution error carrying standard error.
type Executable struct {
	name string
	path string
}

func (x *Executable) Name() string { return x.name }

// Path returns the program location.
func (x *Executable) Path() string { return x.path }

func (x *Executable) Run(args []string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(x.path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return strings.TrimRight(stdout.String(), "\r\n"), nil
}
