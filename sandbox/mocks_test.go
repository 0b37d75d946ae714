package sandbox

import (
	"context"
	"os"
	"sync"
)

// MockCommandRunner implements CommandRunner for testing
type MockCommandRunner struct {
	mu             sync.Mutex
	calls          [][]string
	commandResults map[string]struct {
		stdout   string
		stderr   string
		exitCode int
		err      error
	}
	defaultResult struct {
		stdout   string
		stderr   string
		exitCode int
		err      error
	}
}

func (m *MockCommandRunner) RunCommand(_ context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), args...))
	m.mu.Unlock()

	cmdKey := ""
	for _, arg := range args {
		cmdKey += arg + " "
	}

	if result, exists := m.commandResults[cmdKey]; exists {
		return result.stdout, result.stderr, result.exitCode, result.err
	}

	return m.defaultResult.stdout, m.defaultResult.stderr, m.defaultResult.exitCode, m.defaultResult.err
}

// Calls returns a copy of every recorded invocation.
func (m *MockCommandRunner) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.calls...)
}

// CountCalls returns how many recorded invocations start with prefix.
func (m *MockCommandRunner) CountCalls(prefix ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, call := range m.calls {
		if len(call) < len(prefix) {
			continue
		}
		match := true
		for i, p := range prefix {
			if call[i] != p {
				match = false
				break
			}
		}
		if match {
			n++
		}
	}
	return n
}

// MockFileSystem implements FileSystem for testing
type MockFileSystem struct {
	mu               sync.Mutex
	mkdirTempResults map[string]string
	mkdirAllErrors   map[string]error
	writeFileErrors  map[string]error
	writeFileData    map[string][]byte
	readFileResults  map[string][]byte
	readFileErrors   map[string]error
	removeAllErrors  map[string]error
	removedPaths     []string
}

func (m *MockFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	key := dir + ":" + pattern
	if result, exists := m.mkdirTempResults[key]; exists {
		return result, nil
	}
	return "/tmp/test", nil
}

func (m *MockFileSystem) MkdirAll(path string, _ os.FileMode) error {
	if err, exists := m.mkdirAllErrors[path]; exists {
		return err
	}
	return nil
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, _ os.FileMode) error {
	if err, exists := m.writeFileErrors[filename]; exists {
		return err
	}
	m.mu.Lock()
	if m.writeFileData == nil {
		m.writeFileData = make(map[string][]byte)
	}
	m.writeFileData[filename] = data
	m.mu.Unlock()
	return nil
}

func (m *MockFileSystem) ReadFile(filename string) ([]byte, error) {
	if err, exists := m.readFileErrors[filename]; exists {
		return nil, err
	}
	if result, exists := m.readFileResults[filename]; exists {
		return result, nil
	}
	return []byte{}, nil
}

func (m *MockFileSystem) RemoveAll(path string) error {
	if err, exists := m.removeAllErrors[path]; exists {
		return err
	}
	m.mu.Lock()
	m.removedPaths = append(m.removedPaths, path)
	m.mu.Unlock()
	return nil
}
