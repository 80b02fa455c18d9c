package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the error returned by injected faults unless a Fault sets its own.
var ErrInjected = errors.New("injected fault")

// Fault describes how files matching a rule misbehave.
type Fault struct {
	// WriteLimit is the number of bytes a file accepts before writes fail.
	// Negative disables the limit.
	WriteLimit int64
	// Torn makes the failing write persist the bytes that still fit under
	// WriteLimit before returning the error.
	Torn      bool
	FailSync  bool
	FailClose bool
	Err       error
}

func (f Fault) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

// FaultyFS wraps a FileSystem and injects faults into files whose name
// contains a registered pattern. Faults apply to files opened after the
// rule was added.
type FaultyFS struct {
	FileSystem

	mu         sync.Mutex
	rules      map[string]Fault
	failRename bool
}

// NewFaultyFS wraps inner, or Default when inner is nil.
func NewFaultyFS(inner FileSystem) *FaultyFS {
	if inner == nil {
		inner = Default
	}
	return &FaultyFS{FileSystem: inner, rules: make(map[string]Fault)}
}

// AddRule registers a fault for files whose name contains pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

// ClearRules removes all rules.
func (f *FaultyFS) ClearRules() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = make(map[string]Fault)
	f.failRename = false
}

// FailRename makes every Rename fail with ErrInjected.
func (f *FaultyFS) FailRename(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRename = fail
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FileSystem.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			return &faultyFile{File: file, fault: rule}, nil
		}
	}
	return file, nil
}

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	f.mu.Lock()
	fail := f.failRename
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.FileSystem.Rename(oldpath, newpath)
}

type faultyFile struct {
	File
	fault   Fault
	written int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	limit := ff.fault.WriteLimit
	if limit >= 0 && ff.written+int64(len(p)) > limit {
		if !ff.fault.Torn {
			return 0, ff.fault.err()
		}
		room := limit - ff.written
		if room < 0 {
			room = 0
		}
		n, _ := ff.File.Write(p[:room])
		ff.written += int64(n)
		return n, ff.fault.err()
	}
	n, err := ff.File.Write(p)
	ff.written += int64(n)
	return n, err
}

func (ff *faultyFile) Sync() error {
	if ff.fault.FailSync {
		return ff.fault.err()
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	if ff.fault.FailClose {
		_ = ff.File.Close()
		return ff.fault.err()
	}
	return ff.File.Close()
}
