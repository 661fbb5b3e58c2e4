package device

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

type Executer interface {
	ExecuteWithContext(ctx context.Context, command string, args ...string) (stdout string, stderr string, exitCode int)
}

type commandExecuter struct{}

func NewExecuter() Executer {
	return commandExecuter{}
}

func (commandExecuter) ExecuteWithContext(ctx context.Context, command string, args ...string) (string, string, int) {
	cmd := exec.CommandContext(ctx, command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), errorString(err, &stderr), exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func errorString(err error, stderr *bytes.Buffer) string {
	if b := stderr.Bytes(); len(b) > 0 {
		return string(b)
	} else if err != nil {
		return err.Error()
	}
	return ""
}
