package shared

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/user"
	"runtime"
	"strings"
)

// maxDisplayArg 超过该长度的参数在日志/错误里省略（排除列表可能有上万字节）。
const maxDisplayArg = 120

// Command is one external program invocation.
type Command struct {
	Name string
	Args []string
}

func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

func (c Command) String() string {
	return c.Name + " " + strings.Join(displayArgs(c.Args), " ")
}

// Executor runs external programs. Strategies depend on it so command
// templates can be tested with a fake.
type Executor interface {
	// Execute runs a program found on PATH and returns its combined output.
	Execute(ctx context.Context, name string, args ...string) (string, error)
	// ExecuteBatch runs cmds in order and stops at the first failure.
	ExecuteBatch(ctx context.Context, cmds []Command) error
	// ExecFile runs the executable at path (no PATH lookup).
	ExecFile(ctx context.Context, path string, args ...string) error
}

// CommandError is returned for any failed invocation.
type CommandError struct {
	Name   string
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Output)
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("%s %s failed: %v (%s)", e.Name, strings.Join(displayArgs(e.Args), " "), e.Err, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

func displayArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if len(a) > maxDisplayArg {
			out[i] = fmt.Sprintf("<%d bytes omitted>", len(a))
			continue
		}
		out[i] = a
	}
	return out
}

// OSExecutor runs commands with os/exec.
type OSExecutor struct {
	// User 非空且当前进程为 root 时（Linux），通过 sudo -u 以桌面用户身份执行，
	// 避免 gsettings 写到 root 的配置里。
	User string
	Env  map[string]string
}

// NewDesktopExecutor targets the logged-in desktop user and its DBUS session.
func NewDesktopExecutor() *OSExecutor {
	u := resolveTargetUser()
	env := buildUserEnv(u)
	ensureDBUSSession(env)
	log.Printf("[SystemProxy] executor user=%s DBUS=%s", u, env["DBUS_SESSION_BUS_ADDRESS"])
	return &OSExecutor{User: u, Env: env}
}

func (e *OSExecutor) Execute(ctx context.Context, name string, args ...string) (string, error) {
	return e.run(ctx, name, args...)
}

func (e *OSExecutor) ExecuteBatch(ctx context.Context, cmds []Command) error {
	for _, c := range cmds {
		if _, err := e.run(ctx, c.Name, c.Args...); err != nil {
			return err
		}
	}
	return nil
}

func (e *OSExecutor) ExecFile(ctx context.Context, path string, args ...string) error {
	if _, err := os.Stat(path); err != nil {
		return &CommandError{Name: path, Args: args, Err: err}
	}
	_, err := runWithEnv(ctx, e.Env, path, args...)
	return err
}

func (e *OSExecutor) run(ctx context.Context, name string, args ...string) (string, error) {
	if runtime.GOOS == "linux" && e.User != "" && os.Geteuid() == 0 {
		if current, err := user.Current(); err == nil && current.Username != e.User {
			// sudo 默认清空环境，必须通过 env KEY=VAL 显式传入
			sudoArgs := []string{"-u", e.User, "env"}
			for k, v := range e.Env {
				sudoArgs = append(sudoArgs, k+"="+v)
			}
			sudoArgs = append(sudoArgs, name)
			sudoArgs = append(sudoArgs, args...)
			return runWithEnv(ctx, nil, "sudo", sudoArgs...)
		}
	}
	return runWithEnv(ctx, e.Env, name, args...)
}

func runWithEnv(ctx context.Context, extraEnv map[string]string, name string, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = mergeEnv(os.Environ(), extraEnv)
	output, err := cmd.CombinedOutput()
	if err != nil {
		cmdErr := &CommandError{Name: name, Args: args, Output: string(output), Err: err}
		log.Printf("[SystemProxy] Command failed: %v", cmdErr)
		return string(output), cmdErr
	}
	log.Printf("[SystemProxy] Command success: %s", Cmd(name, args...))
	return string(output), nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	envMap := make(map[string]string, len(base)+len(extra))
	for _, kv := range base {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}
	for k, v := range extra {
		envMap[k] = v
	}
	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, k+"="+v)
	}
	return result
}
