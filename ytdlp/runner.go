package ytdlp

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
)

// Runner runs the yt-dlp binary. Tests swap in MockRunner.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), err
}

type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

type MockCall struct {
	Name string
	Args []string
}

// MockRunner answers every call with the response registered for the URL
// (the last argument), or with Default.
type MockRunner struct {
	mu        sync.Mutex
	responses map[string]MockResponse
	calls     []MockCall
	Default   MockResponse
}

func NewMockRunner() *MockRunner {
	return &MockRunner{
		responses: make(map[string]MockResponse),
	}
}

func (m *MockRunner) Respond(lastArg string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[lastArg] = resp
}

func (m *MockRunner) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]MockCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Name: name, Args: append([]string(nil), args...)})

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if len(args) > 0 {
		if resp, ok := m.responses[args[len(args)-1]]; ok {
			return resp.Stdout, resp.Stderr, resp.Err
		}
	}
	return m.Default.Stdout, m.Default.Stderr, m.Default.Err
}
