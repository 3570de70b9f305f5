package sysproxy

import (
	"context"
	"errors"
	"sync"

	"sysproxy/backend/domain"
	"sysproxy/backend/service/shared"
)

type fakeExec struct {
	mu sync.Mutex

	output   string
	execErr  error
	batchErr error
	fileErr  error

	executed []shared.Command
	batches  [][]shared.Command
	files    []shared.Command
}

func (f *fakeExec) Execute(_ context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, shared.Cmd(name, args...))
	return f.output, f.execErr
}

func (f *fakeExec) ExecuteBatch(_ context.Context, cmds []shared.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, cmds)
	return f.batchErr
}

func (f *fakeExec) ExecFile(_ context.Context, path string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, shared.Cmd(path, args...))
	return f.fileErr
}

type apiCall struct {
	enable         bool
	server, bypass string
}

type fakeAPI struct {
	err   error
	calls []apiCall
}

func (f *fakeAPI) SetProxy(enable bool, server, bypass string) error {
	f.calls = append(f.calls, apiCall{enable, server, bypass})
	return f.err
}

type fakeEnv struct {
	vars    map[string]string
	setErr  error
	removed []string
}

func newFakeEnv() *fakeEnv { return &fakeEnv{vars: map[string]string{}} }

func (f *fakeEnv) Get(name string) (string, error) {
	v, ok := f.vars[name]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (f *fakeEnv) Set(name, value string) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.vars[name] = value
	return nil
}

func (f *fakeEnv) Remove(name string) error {
	delete(f.vars, name)
	f.removed = append(f.removed, name)
	return nil
}

func fixedExclusions(hosts ...string) ExclusionFunc {
	return func(sep string) domain.ExclusionSet {
		return domain.ExclusionSet{Hosts: hosts, Separator: sep}
	}
}

var errBoom = errors.New("boom")
