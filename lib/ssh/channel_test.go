package ssh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRun(t *testing.T) (run *Run, peer *packetConn) {
	t.Helper()
	client, server := newTestPacketConnPair(t)
	conn := &Connection{pc: client}
	run = &Run{
		conn:                conn,
		clientChannel:       0,
		serverChannel:       1,
		serverMaxPacketSize: 1024,
		localWindow:         ^uint32(0),
		remoteWindow:        1024,
	}
	return run, server
}

func TestOpenRunSendsOpenEnvAndExec(t *testing.T) {
	client, server := newTestPacketConnPair(t)
	conn := &Connection{pc: client}

	done := make(chan *RunResult, 1)
	errc := make(chan error, 1)
	go func() {
		r, err := openRun(conn, "uname -a", map[string]string{"LANG": "C"})
		done <- r
		errc <- err
	}()

	openPayload, err := server.readPacket()
	require.NoError(t, err)
	open := &channelOpenMsg{}
	require.NoError(t, Unmarshal(openPayload, open))
	require.Equal(t, "session", open.ChannelType)

	require.NoError(t, server.writePacket(Marshal(&channelOpenConfirmationMsg{
		ClientChannel:           open.ClientChannel,
		ServerChannel:           5,
		ServerInitialWindowSize: 2048,
		ServerMaxPacketSize:     1024,
	})))

	envPayload, err := server.readPacket()
	require.NoError(t, err)
	envReq, err := parseChannelRequest(envPayload)
	require.NoError(t, err)
	require.Equal(t, "env", envReq.RequestType)
	require.Equal(t, "LANG", envReq.Name)

	execPayload, err := server.readPacket()
	require.NoError(t, err)
	execReq, err := parseChannelRequest(execPayload)
	require.NoError(t, err)
	require.Equal(t, "exec", execReq.RequestType)
	require.Equal(t, "uname -a", execReq.Command)

	require.NoError(t, server.writePacket(Marshal(&channelSuccessMsg{RecipientChannel: 0})))

	result := <-done
	require.NoError(t, <-errc)
	require.True(t, result.Accepted)
	require.Equal(t, uint32(5), result.Run.serverChannel)
	require.Equal(t, uint32(2048), result.Run.remoteWindow)
}

func TestOpenRunChannelFailureIsRejected(t *testing.T) {
	client, server := newTestPacketConnPair(t)
	conn := &Connection{pc: client}

	done := make(chan *RunResult, 1)
	errc := make(chan error, 1)
	go func() {
		r, err := openRun(conn, "uname -a", nil)
		done <- r
		errc <- err
	}()

	openPayload, err := server.readPacket()
	require.NoError(t, err)
	open := &channelOpenMsg{}
	require.NoError(t, Unmarshal(openPayload, open))

	require.NoError(t, server.writePacket(Marshal(&channelOpenConfirmationMsg{
		ClientChannel:           open.ClientChannel,
		ServerChannel:           5,
		ServerInitialWindowSize: 2048,
		ServerMaxPacketSize:     1024,
	})))

	execPayload, err := server.readPacket()
	require.NoError(t, err)
	_, err = parseChannelRequest(execPayload)
	require.NoError(t, err)

	require.NoError(t, server.writePacket(Marshal(&channelFailureMsg{RecipientChannel: open.ClientChannel})))

	result := <-done
	require.NoError(t, <-errc)
	require.False(t, result.Accepted)
}

func TestPollSurfacesDataAndRefillsWindow(t *testing.T) {
	run, peer := newTestRun(t)
	run.localWindow = windowRefillThreshold - 1

	errc := make(chan error, 1)
	go func() { errc <- peer.writePacket(Marshal(&channelDataMsg{RecipientChannel: 0, Data: []byte("hi")})) }()

	// Poll sends the WindowAdjust before returning, and net.Pipe writes
	// block until the other end reads, so Poll runs on its own goroutine.
	evc := make(chan Event, 1)
	pollErrc := make(chan error, 1)
	go func() {
		ev, err := run.Poll(context.Background())
		evc <- ev
		pollErrc <- err
	}()

	adjustPayload, err := peer.readPacket()
	require.NoError(t, err)

	ev := <-evc
	require.NoError(t, <-pollErrc)
	require.NoError(t, <-errc)
	require.Equal(t, EventData, ev.Kind)
	require.Equal(t, []byte("hi"), ev.Data)

	adjust := &channelWindowAdjustMsg{}
	require.NoError(t, Unmarshal(adjustPayload, adjust))
	require.Equal(t, uint32(1), adjust.RecipientChannel)
}

func TestPollSurfacesExitStatusThenStopped(t *testing.T) {
	run, peer := newTestRun(t)

	exitReq := &channelRequest{RecipientChannel: 0, RequestType: "exit-status", ExitStatus: 7}
	errc := make(chan error, 1)
	go func() { errc <- peer.writePacket(exitReq.dump()) }()
	ev, err := run.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-errc)
	require.Equal(t, EventNone, ev.Kind)
	require.NotNil(t, run.exitStatus)
	require.Equal(t, uint32(7), *run.exitStatus)

	go func() { errc <- peer.writePacket(Marshal(&channelCloseMsg{RecipientChannel: 0})) }()

	// Poll answers ChannelClose with its own ChannelClose before returning,
	// so it runs on its own goroutine while the peer reads that reply.
	evc := make(chan Event, 1)
	pollErrc := make(chan error, 1)
	go func() {
		ev, err := run.Poll(context.Background())
		evc <- ev
		pollErrc <- err
	}()

	closeAck, err := peer.readPacket()
	require.NoError(t, err)
	require.Equal(t, byte(msgChannelClose), closeAck[0])

	ev = <-evc
	require.NoError(t, <-pollErrc)
	require.NoError(t, <-errc)
	require.Equal(t, EventStopped, ev.Kind)
	require.Equal(t, uint32(7), *ev.ExitStatus)
}

func TestWritePollChunksAboveWindowSize(t *testing.T) {
	run, peer := newTestRun(t)
	run.remoteWindow = 4
	run.serverMaxPacketSize = 4

	data := []byte("abcdefgh")
	errc := make(chan error, 1)
	go func() { errc <- run.WritePoll(context.Background(), data, func(Event) error { return nil }) }()

	first, err := peer.readPacket()
	require.NoError(t, err)
	firstMsg := &channelDataMsg{}
	require.NoError(t, Unmarshal(first, firstMsg))
	require.Equal(t, []byte("abcd"), firstMsg.Data)

	// Refill the window so WritePoll's next chunk can proceed instead of
	// blocking in Poll.
	require.NoError(t, peer.writePacket(Marshal(&channelWindowAdjustMsg{RecipientChannel: 1, BytesToAdd: 4})))

	second, err := peer.readPacket()
	require.NoError(t, err)
	secondMsg := &channelDataMsg{}
	require.NoError(t, Unmarshal(second, secondMsg))
	require.Equal(t, []byte("efgh"), secondMsg.Data)

	require.NoError(t, <-errc)
}

func TestCloseIsIdempotent(t *testing.T) {
	run, peer := newTestRun(t)
	errc := make(chan error, 1)
	go func() { errc <- run.Close() }()
	payload, err := peer.readPacket()
	require.NoError(t, err)
	require.Equal(t, byte(msgChannelClose), payload[0])
	require.NoError(t, <-errc)

	require.NoError(t, run.Close()) // second call is a no-op
}
