// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/phtran-dev/spax/pkg/errors"
)

// CommandTranscoder shells out to an external codec such as gdcmconv or
// dcmcjpeg. The command reads a DICOM stream on stdin and writes the
// converted stream on stdout; every occurrence of {tsuid} in the argument
// list is replaced with the target transfer syntax.
type CommandTranscoder struct {
	cmd []string
}

func NewCommandTranscoder(cmd []string) (*CommandTranscoder, error) {
	if len(cmd) == 0 {
		return nil, errors.NewError().
			WithCode(errors.CodeLackOfConfig).
			WithMessage("transcoder command not configured")
	}
	return &CommandTranscoder{cmd: cmd}, nil
}

func (t *CommandTranscoder) Transcode(ctx context.Context, src io.Reader, targetTsuid string) (io.ReadCloser, int64, error) {
	args := make([]string, 0, len(t.cmd)-1)
	for _, a := range t.cmd[1:] {
		args = append(args, strings.ReplaceAll(a, "{tsuid}", targetTsuid))
	}
	cmd := exec.CommandContext(ctx, t.cmd[0], args...)
	cmd.Stdin = src
	out := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = out
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return nil, 0, fmt.Errorf("transcoder %s: %w: %s", t.cmd[0], err, strings.TrimSpace(stderr.String()))
	}
	return io.NopCloser(bytes.NewReader(out.Bytes())), int64(out.Len()), nil
}
