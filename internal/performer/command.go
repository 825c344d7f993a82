// Package performer provides Performer implementations for the executor.
package performer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/planrunner/internal/errors"
	"github.com/Iron-Ham/planrunner/internal/executor"
	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/sharedctx"
	"github.com/Iron-Ham/planrunner/internal/util"
)

// Task parameters read by Command.
const (
	ParamCommand = "command"
	ParamDir     = "dir"
	ParamEnv     = "env"
)

const (
	// maxMessageLen bounds the failure message recorded on a task.
	maxMessageLen = 500

	// waitDelay bounds how long Perform waits for output pipes after the
	// command is killed, in case a child process keeps them open.
	waitDelay = 2 * time.Second
)

// Input is the JSON document written to a command's stdin.
type Input struct {
	TaskID     string            `json:"task_id"`
	Name       string            `json:"name"`
	Role       string            `json:"role"`
	Parameters map[string]any    `json:"parameters,omitempty"`
	Inputs     map[string]string `json:"inputs"`
}

// Command runs the shell command in a task's "command" parameter.
//
// The command runs under Shell with the task's "dir" parameter (or WorkDir)
// as its working directory. Its stdin receives an Input document carrying
// the outputs of the tasks it needs. Stdout becomes the task output; a
// non-zero exit fails the task with the last line of stderr.
type Command struct {
	Shell   string
	WorkDir string
	Env     []string
}

var _ executor.Performer = (*Command)(nil)

// NewCommand returns a Command that runs tasks with /bin/sh.
func NewCommand() *Command {
	return &Command{Shell: "/bin/sh"}
}

// Perform runs the task's command.
func (c *Command) Perform(ctx context.Context, task plan.Task, shared sharedctx.Store) (executor.Result, error) {
	command, _ := task.Parameters[ParamCommand].(string)
	if strings.TrimSpace(command) == "" {
		return executor.Result{}, errors.NewValidationError("task has no command parameter").
			WithField("parameters." + ParamCommand)
	}

	stdin, err := c.input(ctx, task, shared)
	if err != nil {
		return executor.Result{}, err
	}

	shell := c.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = c.WorkDir
	if dir, ok := task.Parameters[ParamDir].(string); ok && dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(append(os.Environ(), c.Env...), taskEnv(task)...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return executor.Result{}, ctx.Err()
		}
		msg := util.LastLine(stderr.String())
		if msg == "" {
			msg = err.Error()
		} else {
			msg = fmt.Sprintf("%s: %s", err, msg)
		}
		return executor.Result{
			Status:  executor.ResultFailure,
			Output:  stdout.String(),
			Message: util.TruncateString(msg, maxMessageLen),
		}, nil
	}

	return executor.Result{Status: executor.ResultSuccess, Output: stdout.String()}, nil
}

// input builds the stdin document from the outputs of the task's needs.
// Needs without a stored output are left out.
func (c *Command) input(ctx context.Context, task plan.Task, shared sharedctx.Store) ([]byte, error) {
	in := Input{
		TaskID:     task.ID,
		Name:       task.Name,
		Role:       task.Role,
		Parameters: task.Parameters,
		Inputs:     make(map[string]string, len(task.Needs)),
	}
	if shared != nil {
		for _, need := range task.Needs {
			v, err := shared.Get(ctx, need, sharedctx.KindOutput)
			if errors.Is(err, sharedctx.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read output of %s: %w", need, err)
			}
			in.Inputs[need] = string(v)
		}
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode command input: %w", err)
	}
	return data, nil
}

// taskEnv exposes the task identity and its "env" parameter to the command.
func taskEnv(task plan.Task) []string {
	env := []string{
		"PLANRUNNER_TASK_ID=" + task.ID,
		"PLANRUNNER_TASK_ROLE=" + task.Role,
		"PLANRUNNER_TASK_NEEDS=" + strings.Join(task.Needs, ","),
	}
	if vars, ok := task.Parameters[ParamEnv].(map[string]any); ok {
		for k, v := range vars {
			env = append(env, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return env
}
