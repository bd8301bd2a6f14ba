package relay

import (
	"context"
	"errors"
	"io"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/session"
	"github.com/p-arndt/compilerz/protocol"
)

// pump relays stream output to c in order, then a single terminal event.
// It keeps draining after the connection detaches so the process never
// blocks on a full terminal.
func (r *Registry) pump(ctx context.Context, c *conn, ref *runRef, stream *session.Stream) {
	log := r.logger.With(zap.String("conn_id", c.id), zap.String("session_id", ref.sessionID), zap.String("run_id", ref.runID))

	buf := make([]byte, chunkSize)
	var pending []byte
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			var out []byte
			out, pending = splitUTF8(pending)
			if len(out) > 0 {
				r.inst.OutputBytes.Add(ctx, int64(len(out)))
				r.emit(c, ref, protocol.Output(out), log)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, session.ErrStreamAborted) {
				log.Debug("stream read ended", zap.Error(err))
			}
			break
		}
	}
	if len(pending) > 0 {
		r.emit(c, ref, protocol.Output(pending), log)
	}

	res := stream.Finish(ctx)

	c.mu.Lock()
	attached := c.run == ref && !c.closed
	if c.run == ref {
		c.run = nil
	}
	c.mu.Unlock()
	if !attached {
		return
	}

	ev := protocol.Completed(res.ExitCode)
	if res.Aborted {
		ev = protocol.Aborted()
	}
	if err := c.sink.Send(ev); err != nil {
		log.Debug("terminal event not delivered", zap.Error(err))
	}
}

// emit sends ev only while c is still attached to the run.
func (r *Registry) emit(c *conn, ref *runRef, ev protocol.Event, log *zap.Logger) {
	c.mu.Lock()
	attached := c.run == ref && !c.closed
	c.mu.Unlock()
	if !attached {
		return
	}
	if err := c.sink.Send(ev); err != nil {
		log.Debug("output not delivered", zap.Error(err))
	}
}

// splitUTF8 returns the longest prefix of b that does not end inside a
// multi-byte sequence, and the remainder. A remainder that can never become
// valid is flushed as is.
func splitUTF8(b []byte) ([]byte, []byte) {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return b, nil
		}
		if utf8.RuneStart(c) {
			if utf8.FullRune(b[len(b)-i:]) {
				return b, nil
			}
			return b[:len(b)-i], append([]byte(nil), b[len(b)-i:]...)
		}
	}
	return b, nil
}
