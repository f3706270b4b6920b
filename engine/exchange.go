package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
	"github.com/cybroslabs/libdlms-engine/settings"
)

type tmpbuffer [256]byte

// Exchange drives request/response over a stream. It sends frames, feeds
// whatever arrives into GetData and asks for missing frames and blocks until
// the reply is complete. Not safe for concurrent use, same as the settings.
type Exchange struct {
	settings *settings.Settings
	stream   base.Stream
	incoming *buffer.Buffer
	tmp      tmpbuffer
}

func NewExchange(s *settings.Settings, stream base.Stream) *Exchange {
	return &Exchange{
		settings: s,
		stream:   stream,
		incoming: buffer.New(len(tmpbuffer{})),
	}
}

// Request sends frames of one block and reads the whole reply. Context
// deadline becomes stream deadline, cancellation is checked between reads
// only, so a read blocked on a stream without deadline or timeout is not
// interrupted by cancel.
func (e *Exchange) Request(ctx context.Context, frames [][]byte, reply *ReplyData) error {
	e.deadline(ctx)
	defer e.stream.SetDeadline(time.Time{})

	for i, f := range frames {
		if err := e.write(ctx, f); err != nil {
			return err
		}
		// window size is one, the peer acknowledges every segment
		if i != len(frames)-1 && e.settings.InterfaceType == base.InterfaceTypeHDLC {
			ack := NewReplyData()
			if err := e.receive(ctx, ack); err != nil {
				return fmt.Errorf("segment %d acknowledgement: %w", i, err)
			}
		}
	}
	return e.read(ctx, reply)
}

// Read waits for a reply nobody asked for, a push for instance.
func (e *Exchange) Read(ctx context.Context, reply *ReplyData) error {
	e.deadline(ctx)
	defer e.stream.SetDeadline(time.Time{})
	return e.read(ctx, reply)
}

func (e *Exchange) read(ctx context.Context, reply *ReplyData) error {
	for {
		if err := e.receive(ctx, reply); err != nil {
			return err
		}
		if !reply.IsMoreData() {
			return nil
		}
		// push blocks come on their own
		if reply.Command == base.TagGeneralBlockTransfer && reply.MoreData == base.RequestTypesDataBlock {
			continue
		}
		rr, err := ReceiverReady(e.settings, reply.MoreData)
		if err != nil {
			return err
		}
		if err = e.write(ctx, rr); err != nil {
			return err
		}
	}
}

// receive reads until GetData consumes one frame.
func (e *Exchange) receive(ctx context.Context, reply *ReplyData) error {
	for {
		if e.incoming.Remaining() != 0 {
			ok, err := GetData(e.settings, e.incoming, reply)
			e.incoming.Trim()
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := e.stream.Read(e.tmp[:])
		if n > 0 {
			debugf(e.settings, "RX: %X", e.tmp[:n])
			e.incoming.Append(e.tmp[:n])
		}
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
	}
}

func (e *Exchange) write(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	debugf(e.settings, "TX: %X", frame)
	if err := e.stream.Write(frame); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (e *Exchange) deadline(ctx context.Context) {
	if d, ok := ctx.Deadline(); ok {
		e.stream.SetDeadline(d)
	}
}
