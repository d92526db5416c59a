// Command tasktree-skeleton is a reference acceptance-test generator. It
// answers one genproto request with a failing Go test skeleton for the task,
// so test-first work starts from a red test named after the requirement.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/openfroyo/tasktree/pkg/genproto"
	"github.com/openfroyo/tasktree/pkg/orchestrator"
)

const version = "1.0.0"

type generator struct {
	encoder *genproto.Encoder
	decoder *genproto.Decoder
}

func main() {
	g := &generator{
		encoder: genproto.NewEncoder(os.Stdout),
		decoder: genproto.NewDecoder(os.Stdin),
	}
	os.Exit(g.run(context.Background()))
}

func (g *generator) run(ctx context.Context) int {
	frame, err := g.decoder.DecodeRequest()
	if err != nil {
		g.fail("", "BAD_REQUEST", fmt.Sprintf("failed to read request: %v", err))
		return 2
	}

	if frame.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(frame.Timeout)*time.Second)
		defer cancel()
	}

	var req orchestrator.GenerationRequest
	if err := genproto.ParseData(frame.Params, &req); err != nil {
		g.fail(frame.ID, "BAD_REQUEST", err.Error())
		return 2
	}
	if req.Task == nil {
		g.fail(frame.ID, "BAD_REQUEST", "request has no task")
		return 2
	}

	start := time.Now()
	_ = g.encoder.EncodeEvent(&genproto.EventMessage{
		RequestID: frame.ID,
		Level:     "debug",
		Message:   fmt.Sprintf("tasktree-skeleton %s rendering %q", version, req.Task.Name),
	})

	spec, err := render(ctx, &req)
	if err != nil {
		g.fail(frame.ID, "RENDER_FAILED", err.Error())
		return 1
	}

	result := orchestrator.GenerationResult{Success: true, Tests: []orchestrator.TestSpec{spec}}
	if err := g.encoder.EncodeDone(frame.ID, result, time.Since(start)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to send result: %v\n", err)
		return 1
	}
	return 0
}

func (g *generator) fail(requestID, code, message string) {
	if err := g.encoder.EncodeError(&genproto.ErrorMessage{
		RequestID: requestID,
		Code:      code,
		Message:   message,
	}); err != nil {
		_, _ = io.WriteString(os.Stderr, message+"\n")
	}
}
