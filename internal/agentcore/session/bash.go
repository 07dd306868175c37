package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xonecas/symb/internal/shell"
)

// maxBashOutputBytes bounds what goes into history directly; anything
// larger is truncated there and the caller is told where the full
// transcript landed instead, mirroring the teacher's shell tool output cap.
const maxBashOutputBytes = 16 * 1024

// BashResult reports what a privileged bash execution produced.
type BashResult struct {
	Output         string `json:"output"`
	ExitCode       int    `json:"exitCode"`
	Cancelled      bool   `json:"cancelled"`
	Truncated      bool   `json:"truncated"`
	FullOutputPath string `json:"fullOutputPath,omitempty"`
}

type bashExecutionPayload struct {
	Command  string `json:"command"`
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
}

// ExecuteBash is a thin pass-through to as.shell: it runs command, records
// the full transcript as a custom bashExecution entry on the session log,
// and returns a front-end-facing summary, truncating what's handed back
// directly if it is large. The entry is not added to the agent's in-memory
// history, and the agent loop transforms history without a
// CustomConverter, so the transcript is not sent to the model.
func (as *AgentSession) ExecuteBash(ctx context.Context, command string) (BashResult, error) {
	if as.shell == nil {
		return BashResult{}, errors.New("session: no shell configured")
	}

	stdout, stderr, err := as.shell.Exec(ctx, command)
	output := stdout
	if stderr != "" {
		output += stderr
	}

	result := BashResult{Output: output, ExitCode: shell.ExitCode(err)}
	if ctx.Err() != nil {
		result.Cancelled = true
	}

	payload, marshalErr := json.Marshal(bashExecutionPayload{Command: command, Output: output, ExitCode: result.ExitCode})
	if marshalErr == nil {
		if _, appendErr := as.store.AppendCustomMessage("bashExecution", payload); appendErr != nil {
			return result, fmt.Errorf("session: execute bash: persist transcript: %w", appendErr)
		}
	}

	if len(result.Output) > maxBashOutputBytes {
		result.Truncated = true
		if path, writeErr := as.writeFullBashOutput(output); writeErr == nil {
			result.FullOutputPath = path
		}
		result.Output = result.Output[:maxBashOutputBytes]
	}
	return result, nil
}

// writeFullBashOutput saves a truncated command's untruncated transcript
// next to the session log, so a front-end can point the user at it instead
// of flooding the terminal or the model's context.
func (as *AgentSession) writeFullBashOutput(output string) (string, error) {
	sessionPath := as.store.Path()
	if sessionPath == "" {
		return "", errors.New("session: no on-disk session to anchor output next to")
	}
	dir := filepath.Dir(sessionPath)
	base := strings.TrimSuffix(filepath.Base(sessionPath), ".jsonl")
	path := filepath.Join(dir, fmt.Sprintf("%s-bash-%d.log", base, as.seq.Load()))
	if err := os.WriteFile(path, []byte(output), 0o640); err != nil {
		return "", fmt.Errorf("session: write full bash output: %w", err)
	}
	return path, nil
}
