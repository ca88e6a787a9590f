package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/trobanga/geochain/internal/lib"
)

// Command is one resolved module invocation
type Command struct {
	Name string
	Args []string
	Env  []string // KEY=VALUE pairs added to the process environment
	Dir  string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of an invocation
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output combines stdout and stderr for error reports
func (r Result) Output() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// Runner executes module invocations.
// A non-zero exit status is reported as an ErrModuleExecution error together with the Result.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, cmd Command) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// ExecRunner runs modules as local processes
type ExecRunner struct {
	modulePath string
	logger     *lib.Logger
}

// NewExecRunner creates a runner; modulePath is prepended to PATH when set
func NewExecRunner(modulePath string, logger *lib.Logger) *ExecRunner {
	if logger == nil {
		logger = lib.DiscardLogger
	}
	return &ExecRunner{modulePath: modulePath, logger: logger}
}

// Run blocks until the process exits. No timeout is imposed here; ctx
// cancellation kills the process.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	env := os.Environ()
	path := os.Getenv("PATH")
	if r.modulePath != "" {
		path = r.modulePath + string(os.PathListSeparator) + path
	}
	env = append(env, "PATH="+path)
	env = append(env, cmd.Env...)

	name := cmd.Name
	if r.modulePath != "" && !strings.ContainsRune(name, os.PathSeparator) {
		if resolved, err := lookPathIn(name, path); err == nil {
			name = resolved
		}
	}

	c := exec.CommandContext(ctx, name, cmd.Args...)
	c.Env = env
	c.Dir = cmd.Dir

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.logger.Debug("Running module", "command", cmd.String(), "dir", cmd.Dir)

	start := time.Now()
	err := c.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, lib.ErrModuleExecution(cmd.Name, result.ExitCode, result.Output(), nil)
		}
		result.ExitCode = -1
		return result, lib.WrapError(lib.CategoryFileSystem,
			fmt.Sprintf("Cannot start module <%s>", cmd.Name), err,
			"Check that the module is installed and grass.module_path is correct")
	}

	return result, nil
}

// lookPathIn resolves name against an explicit PATH value
func lookPathIn(name, path string) (string, error) {
	for _, dir := range strings.Split(path, string(os.PathListSeparator)) {
		if dir == "" {
			continue
		}
		candidate := dir + string(os.PathSeparator) + name
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return candidate, nil
		}
	}
	return "", exec.ErrNotFound
}
