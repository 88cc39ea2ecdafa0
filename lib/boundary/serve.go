// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import (
	"context"
	"errors"
	"io"

	"github.com/bureau-foundation/retrieval/lib/fetch"
)

// Runner executes one translated request and returns its terminal
// outcome. Serve calls it sequentially, once per accepted Request.
type Runner func(ctx context.Context, req fetch.Request) fetch.Outcome

// Serve runs the boundary loop: read a Request frame, answer with
// exactly one Result frame, repeat. Requests the contract cannot
// accept (wrong version, undecodable digest or payload, unusable
// fields) are answered with a rejected Result and the loop continues.
//
// Serve returns nil when the host closes the stream on a frame
// boundary, the read error when framing alignment is lost, and the
// write error when a Result cannot be delivered. Cancellation is
// checked between messages; a host that wants a prompt stop closes
// the read side.
func Serve(ctx context.Context, r io.Reader, w io.Writer, runner Runner) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var req Request
		if err := ReadMessage(r, &req); err != nil {
			if err == io.EOF {
				return nil
			}
			var frameErr *FrameError
			if errors.As(err, &frameErr) && !frameErr.IsFatal() {
				if werr := WriteMessage(w, Rejected(err.Error())); werr != nil {
					return werr
				}
				continue
			}
			return err
		}

		var result Result
		if fetchReq, err := RequestToFetch(req); err != nil {
			result = Rejected(err.Error())
		} else {
			result = OutcomeToResult(runner(ctx, fetchReq))
		}
		if err := WriteMessage(w, result); err != nil {
			return err
		}
	}
}
