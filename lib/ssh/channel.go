package ssh

import "context"

// Recommended channel parameters: a full-range window so flow control
// rarely kicks in, and a generous max packet size.
const (
	clientInitialWindowSize = ^uint32(0)         // 2^32 - 1
	clientMaxPacketSize     = 256 * 1024
	windowRefillThreshold   = clientInitialWindowSize / 4
)

// EventKind distinguishes the cases Run.Poll can surface.
type EventKind int

const (
	EventNone EventKind = iota
	EventData
	EventStderr
	EventStopped
)

// Event is what Run.Poll returns for one polling turn. Data is only set
// for EventData/EventStderr; it is a copy that stays valid after the next
// Poll call.
type Event struct {
	Kind       EventKind
	Data       []byte
	ExitStatus *uint32 // only meaningful for EventStopped
}

// RunResult distinguishes a channel the server accepted from one it
// refused; refusal is non-fatal to the connection.
type RunResult struct {
	Accepted bool
	Run      *Run
}

// Run is the single session channel this core supports: one exec per
// channel, windowed flow control in both directions, and at most one
// active channel per Connection.
type Run struct {
	conn *Connection

	clientChannel uint32
	serverChannel uint32

	serverMaxPacketSize uint32
	localWindow         uint32 // credit we offer the server (bytes it may still send us)
	remoteWindow        uint32 // credit the server has given us (bytes we may still send it)

	exitStatus *uint32
	closed     bool
}

// openRun sends ChannelOpen, awaits confirmation, optionally sends env
// requests, then sends the exec request and awaits ChannelSuccess/Failure.
func openRun(conn *Connection, command string, env map[string]string) (*RunResult, error) {
	clientChannel := conn.nextChannel
	conn.nextChannel++

	open := &channelOpenMsg{
		ChannelType:             "session",
		ClientChannel:           clientChannel,
		ClientInitialWindowSize: uint32(clientInitialWindowSize),
		ClientMaxPacketSize:     clientMaxPacketSize,
	}
	if err := conn.pc.writePacket(Marshal(open)); err != nil {
		return nil, err
	}

	payload, err := conn.pc.readPacket()
	if err != nil {
		return nil, err
	}
	if payload[0] != msgChannelOpenConfirmation {
		return nil, unexpectedMessageError(msgChannelOpenConfirmation, payload[0])
	}
	confirm := &channelOpenConfirmationMsg{}
	if err := Unmarshal(payload, confirm); err != nil {
		return nil, err
	}

	run := &Run{
		conn:                conn,
		clientChannel:       clientChannel,
		serverChannel:       confirm.ServerChannel,
		serverMaxPacketSize: confirm.ServerMaxPacketSize,
		localWindow:         uint32(clientInitialWindowSize),
		remoteWindow:        confirm.ServerInitialWindowSize,
	}

	for name, value := range env {
		envReq := newEnvRequest(run.serverChannel, name, value)
		if err := conn.pc.writePacket(envReq.dump()); err != nil {
			return nil, err
		}
	}

	exec := newExecRequest(run.serverChannel, command)
	if err := conn.pc.writePacket(exec.dump()); err != nil {
		return nil, err
	}

	payload, err = conn.pc.readPacket()
	if err != nil {
		return nil, err
	}
	switch payload[0] {
	case msgChannelSuccess:
		return &RunResult{Accepted: true, Run: run}, nil
	case msgChannelFailure:
		fail := &channelFailureMsg{}
		if err := Unmarshal(payload, fail); err != nil {
			return nil, err
		}
		if fail.RecipientChannel != clientChannel {
			return nil, newErr(KindInvalidData, "channel failure for wrong channel")
		}
		return &RunResult{Accepted: false}, nil
	default:
		return nil, unexpectedMessageError(msgChannelSuccess, payload[0])
	}
}

// Poll receives the next channel message and surfaces it as an Event. A
// read timeout surfaces as EventNone so callers can poll in a loop without
// treating idle periods as fatal.
func (r *Run) Poll(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, wrapErr(KindTimeout, "context canceled before poll", err)
	}
	payload, err := r.conn.pc.readPacket()
	if err != nil {
		if e, ok := err.(*Error); ok && e.Kind == KindTimeout {
			return Event{Kind: EventNone}, nil
		}
		return Event{}, err
	}

	switch payload[0] {
	case msgChannelData:
		data := &channelDataMsg{}
		if err := Unmarshal(payload, data); err != nil {
			return Event{}, err
		}
		r.localWindow -= uint32(len(data.Data))
		if r.localWindow < windowRefillThreshold {
			toAdd := uint32(clientInitialWindowSize) - r.localWindow
			adjust := &channelWindowAdjustMsg{RecipientChannel: r.serverChannel, BytesToAdd: toAdd}
			if err := r.conn.pc.writePacket(Marshal(adjust)); err != nil {
				return Event{}, err
			}
			r.localWindow = uint32(clientInitialWindowSize)
			r.conn.metrics.windowAdjust("local")
		}
		return Event{Kind: EventData, Data: data.Data}, nil

	case msgChannelExtendedData:
		ext := &channelExtendedDataMsg{}
		if err := Unmarshal(payload, ext); err != nil {
			return Event{}, err
		}
		if ext.DataType == extendedDataStderr {
			return Event{Kind: EventStderr, Data: ext.Data}, nil
		}
		// Minimal core: non-stderr extended data is surfaced the same
		// way rather than dropped, so callers still observe it.
		return Event{Kind: EventStderr, Data: ext.Data}, nil

	case msgChannelWindowAdjust:
		adjust := &channelWindowAdjustMsg{}
		if err := Unmarshal(payload, adjust); err != nil {
			return Event{}, err
		}
		r.remoteWindow += adjust.BytesToAdd
		r.conn.metrics.windowAdjust("remote")
		return Event{Kind: EventNone}, nil

	case msgChannelRequest:
		req, err := parseChannelRequest(payload)
		if err != nil {
			return Event{}, err
		}
		if req.RequestType == "exit-status" {
			status := req.ExitStatus
			r.exitStatus = &status
		}
		return Event{Kind: EventNone}, nil

	case msgChannelEOF:
		return Event{Kind: EventNone}, nil

	case msgChannelClose:
		closeMsg := &channelCloseMsg{RecipientChannel: r.serverChannel}
		if err := r.conn.pc.writePacket(Marshal(closeMsg)); err != nil {
			return Event{}, err
		}
		r.closed = true
		return Event{Kind: EventStopped, ExitStatus: r.exitStatus}, nil

	default:
		return Event{}, unexpectedMessageError(msgChannelData, payload[0])
	}
}

// WritePoll partitions data into chunks no larger than
// min(server_max_packet_size, remote_window), sending each as ChannelData
// and calling onEvent for any non-EventNone event observed while waiting
// for window credit to refill.
func (r *Run) WritePoll(ctx context.Context, data []byte, onEvent func(Event) error) error {
	if r.closed {
		return newErr(KindProcessHasExited, "channel write after close")
	}
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return wrapErr(KindTimeout, "context canceled mid-write", err)
		}
		step := r.serverMaxPacketSize
		if r.remoteWindow < step {
			step = r.remoteWindow
		}
		if step == 0 {
			ev, err := r.Poll(ctx)
			if err != nil {
				return err
			}
			if ev.Kind != EventNone {
				if err := onEvent(ev); err != nil {
					return err
				}
			}
			continue
		}
		if uint32(len(data)) <= step {
			if err := r.sendChannelData(data); err != nil {
				return err
			}
			return nil
		}
		if err := r.sendChannelData(data[:step]); err != nil {
			return err
		}
		data = data[step:]
	}
	return nil
}

func (r *Run) sendChannelData(chunk []byte) error {
	msg := &channelDataMsg{RecipientChannel: r.serverChannel, Data: chunk}
	if err := r.conn.pc.writePacket(Marshal(msg)); err != nil {
		return err
	}
	r.remoteWindow -= uint32(len(chunk))
	return nil
}

// Write is the half-duplex convenience form: it fails with a
// KindUnexpectedMessageType error if any non-EventNone event arrives while
// draining window credit mid-write. There is no dedicated Kind for this
// case.
func (r *Run) Write(ctx context.Context, data []byte) error {
	return r.WritePoll(ctx, data, func(ev Event) error {
		return wrapErr(KindUnexpectedMessageType, "unexpected event during half-duplex write", nil)
	})
}

// Close sends a best-effort ChannelClose if the channel wasn't already
// observed closed.
func (r *Run) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	closeMsg := &channelCloseMsg{RecipientChannel: r.serverChannel}
	return r.conn.pc.writePacket(Marshal(closeMsg))
}
