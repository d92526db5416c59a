package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/openfroyo/tasktree/pkg/engine"
	"github.com/openfroyo/tasktree/pkg/genproto"
	"github.com/openfroyo/tasktree/pkg/telemetry"
)

// ExitTempFail is the exit status (EX_TEMPFAIL) a generator command uses to
// ask for a retry without writing an ERROR frame.
const ExitTempFail = 75

// maxStderr bounds the stderr kept for error messages.
const maxStderr = 4096

// ExecGenerator runs an external command per request and speaks genproto
// with it: one REQUEST frame on stdin carrying the GenerationRequest, then
// EVENT frames and a final DONE frame carrying a GenerationResult, or an
// ERROR frame, on stdout.
type ExecGenerator struct {
	Command string
	Args    []string

	// Env is appended to the current environment.
	Env []string

	// Dir is the working directory; empty means the current one.
	Dir string

	// Logger receives the command's EVENT frames. Nil drops them.
	Logger *telemetry.Logger
}

// Generate implements TestGenerator. A retryable ERROR frame, exit status 75
// and deadline expiry are transient; any other failure is permanent.
func (g *ExecGenerator) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	params, err := json.Marshal(req)
	if err != nil {
		return nil, engine.NewPermanentError("failed to encode generation request", err)
	}
	frame := &genproto.RequestMessage{ID: engine.GenerateID(), Params: params}
	if deadline, ok := ctx.Deadline(); ok {
		frame.Timeout = int(time.Until(deadline).Round(time.Second).Seconds())
		if frame.Timeout < 0 {
			frame.Timeout = 0
		}
	}

	var input bytes.Buffer
	if err := genproto.NewEncoder(&input).EncodeRequest(frame); err != nil {
		return nil, engine.NewPermanentError("failed to encode generation request", err)
	}

	cmd := exec.CommandContext(ctx, g.Command, g.Args...)
	cmd.Dir = g.Dir
	if len(g.Env) > 0 {
		cmd.Env = append(os.Environ(), g.Env...)
	}

	var stderr bytes.Buffer
	cmd.Stdin = &input
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, engine.NewPermanentError("failed to run generator", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, engine.NewPermanentError("failed to run generator", err)
	}

	result, reported, protoErr := g.readResponse(frame.ID, genproto.NewDecoder(stdout))
	// Wait closes stdout; the command must not block writing to it first.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, engine.NewTransientError("generator timed out", ctx.Err())
	}
	if reported != nil {
		return nil, reported
	}
	if result != nil {
		return result, nil
	}
	if waitErr != nil {
		msg := strings.TrimSpace(tail(stderr.String(), maxStderr))
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			if exitErr.ExitCode() == ExitTempFail {
				return nil, engine.NewTransientError(fmt.Sprintf("generator asked for retry: %s", msg), waitErr)
			}
			return nil, engine.NewPermanentError(
				fmt.Sprintf("generator exited with status %d: %s", exitErr.ExitCode(), msg), waitErr,
			).WithDetail("exit_code", exitErr.ExitCode())
		}
		return nil, engine.NewPermanentError("failed to run generator", waitErr)
	}
	if protoErr == nil {
		protoErr = errors.New("no DONE or ERROR frame")
	}
	return nil, engine.NewPermanentError("generator wrote invalid output", protoErr)
}

// readResponse consumes frames up to the first DONE or ERROR. reported is
// the classified failure of an ERROR frame; protoErr is a broken stream.
func (g *ExecGenerator) readResponse(requestID string, dec *genproto.Decoder) (result *GenerationResult, reported, protoErr error) {
	for {
		msg, err := dec.Decode()
		if err == io.EOF {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, err
		}

		switch msg.Type {
		case genproto.MessageTypeEvent:
			var event genproto.EventMessage
			if err := genproto.ParseData(msg.Data, &event); err != nil {
				return nil, nil, err
			}
			g.logEvent(&event)

		case genproto.MessageTypeDone:
			var done genproto.DoneMessage
			if err := genproto.ParseData(msg.Data, &done); err != nil {
				return nil, nil, err
			}
			if done.RequestID != requestID {
				return nil, nil, fmt.Errorf("request ID mismatch: expected %s, got %s", requestID, done.RequestID)
			}
			var res GenerationResult
			if err := genproto.ParseData(done.Result, &res); err != nil {
				return nil, nil, err
			}
			return &res, nil, nil

		case genproto.MessageTypeError:
			var errMsg genproto.ErrorMessage
			if err := genproto.ParseData(msg.Data, &errMsg); err != nil {
				return nil, nil, err
			}
			if errMsg.RequestID != "" && errMsg.RequestID != requestID {
				return nil, nil, fmt.Errorf("request ID mismatch: expected %s, got %s", requestID, errMsg.RequestID)
			}
			text := fmt.Sprintf("generator failed: %s - %s", errMsg.Code, errMsg.Message)
			var failure *engine.EngineError
			if errMsg.Retryable {
				failure = engine.NewTransientError(text, nil)
			} else {
				failure = engine.NewPermanentError(text, nil)
			}
			if errMsg.Code != "" {
				failure = failure.WithDetail("generator_code", errMsg.Code)
			}
			return nil, failure, nil

		default:
			return nil, nil, fmt.Errorf("unexpected message type: %s", msg.Type)
		}
	}
}

func (g *ExecGenerator) logEvent(event *genproto.EventMessage) {
	if g.Logger == nil {
		return
	}
	l := g.Logger.WithField("request_id", event.RequestID)
	if event.Progress != nil {
		l = l.WithFields(map[string]interface{}{
			"current": event.Progress.Current,
			"total":   event.Progress.Total,
			"unit":    event.Progress.Unit,
		})
	}
	switch event.Level {
	case "debug":
		l.Debug(event.Message)
	case "warn":
		l.Warn(event.Message)
	default:
		l.Info(event.Message)
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
