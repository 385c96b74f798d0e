package operation

import (
	"bytes"
	"context"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/internal/model"
)

const (
	pathPlaceholder = "{path}"
	tailSize        = 2048
	waitDelay       = 5 * time.Second
)

type Settings struct {
	Commands       map[model.ResourceClass][]string
	UnchangedCodes []int
	SkippedCodes   []int
}

// Command runs an external tool per file. The tool is expected to be
// idempotent: a file it already fixed must come back as unchanged.
type Command struct {
	settings Settings
	log      *wlog.Logger
}

func NewCommand(log *wlog.Logger, s Settings) *Command {
	return &Command{
		settings: s,
		log:      log.With(wlog.String("scope", "operation")),
	}
}

func (c *Command) args(j *model.Job) ([]string, error) {
	tpl, ok := c.settings.Commands[j.Class]
	if !ok || len(tpl) == 0 {
		return nil, errors.Wrapf(model.ErrOperationFault, "no command for class %s", j.Class)
	}

	args := make([]string, 0, len(tpl)+1)
	found := false

	for _, a := range tpl {
		if strings.Contains(a, pathPlaceholder) {
			a = strings.ReplaceAll(a, pathPlaceholder, j.Path)
			found = true
		}

		args = append(args, a)
	}

	if !found {
		args = append(args, j.Path)
	}

	return args, nil
}

func (c *Command) Run(ctx context.Context, j *model.Job) (model.Outcome, error) {
	args, err := c.args(j)
	if err != nil {
		return model.Outcome{}, err
	}

	var stdout, stderr tail

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	log := c.log.With(wlog.String("job_id", j.ID), wlog.String("cmd", args[0]))
	log.Debug("start", wlog.String("path", j.Path))

	start := time.Now()
	err = cmd.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return model.Outcome{}, errors.Wrapf(model.ErrOperationFault, "%s: %v", args[0], ctxErr)
	}

	if err == nil {
		log.Debug("done", wlog.Duration("duration", time.Since(start)))

		return model.Outcome{Code: model.OutcomeChanged, Message: stdout.lastLine()}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return model.Outcome{}, errors.Wrapf(model.ErrOperationFault, "%s: %v", args[0], err)
	}

	code := exitErr.ExitCode()

	switch {
	case slices.Contains(c.settings.UnchangedCodes, code):
		return model.Outcome{Code: model.OutcomeUnchanged, Message: stdout.lastLine()}, nil
	case slices.Contains(c.settings.SkippedCodes, code):
		return model.Outcome{Code: model.OutcomeSkipped, Message: stdout.lastLine()}, nil
	case code < 0:
		// killed by a signal
		return model.Outcome{}, errors.Wrapf(model.ErrOperationFault, "%s: %v", args[0], err)
	}

	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = exitErr.Error()
	}

	log.Warn("exit code", wlog.Int("code", code), wlog.String("stderr", msg))

	return model.Outcome{Code: model.OutcomeFailed, Message: msg}, nil
}

// tail keeps the last tailSize bytes written to it.
type tail struct {
	buf bytes.Buffer
}

func (t *tail) Write(p []byte) (int, error) {
	n := len(p)
	if n > tailSize {
		p = p[n-tailSize:]
	}

	t.buf.Write(p)

	if over := t.buf.Len() - tailSize; over > 0 {
		t.buf.Next(over)
	}

	return n, nil
}

func (t *tail) String() string {
	return t.buf.String()
}

func (t *tail) lastLine() string {
	s := strings.TrimSpace(t.buf.String())
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}

	return s
}
