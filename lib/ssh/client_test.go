package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

// constantReader is a deterministic "randomness" source for the fake
// server, so its ephemeral key and padding are reproducible.
type constantReader struct{}

func (constantReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(i + 1)
	}
	return len(p), nil
}

// TestDialFullHandshakeAndExec drives dialHandshake (Dial after its TCP
// connect) against an in-process fake server over net.Pipe end to end:
// banner exchange, curve25519 key
// exchange, ed25519 host verification, aes256-ctr/hmac-sha2-256
// transport, password auth, and one exec with channel flow control.
func TestDialFullHandshakeAndExec(t *testing.T) {
	hostPub, hostPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverDone := make(chan error, 1)
	go func() { serverDone <- runFakeServer(serverConn, hostPub, hostPriv, "hello world", 0) }()

	config := &ClientConfig{
		User: "alice",
		Auth: []AuthMethod{Password("s3cret")},
		HostKeyCallback: func(hostname string, remote net.Addr, key ed25519.PublicKey) error {
			require.True(t, hostPub.Equal(key))
			return nil
		},
	}
	config.SetDefaults()

	conn, err := dialHandshake(clientConn, "pipe", config, componentLogger("kex"), time.Now())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stdout, _, status, err := QuickRunBytes(ctx, conn, "echo hello", nil)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(stdout))
	require.Equal(t, uint32(0), status)

	require.NoError(t, <-serverDone)
}

// TestDialHelloOnlyStopsBeforeHostVerification confirms that HelloOnly
// returns a populated Connection even against a server whose host key
// could never be verified (no HostKeyCallback configured), since the ECDH
// and signature-verification steps that would fail never run.
func TestDialHelloOnlyStopsBeforeHostVerification(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverDone := make(chan error, 1)
	go func() {
		serverBanner := "SSH-2.0-coresshtestsrv"
		if _, err := readBannerLine(serverConn); err != nil {
			serverDone <- err
			return
		}
		if _, err := serverConn.Write([]byte(serverBanner + "\r\n")); err != nil {
			serverDone <- err
			return
		}
		spc := newPacketConn(serverConn, constantReader{}, nil)
		if _, err := spc.readPacket(); err != nil {
			serverDone <- err
			return
		}
		serverKex, err := buildKexInit(constantReader{})
		if err != nil {
			serverDone <- err
			return
		}
		serverDone <- spc.writePacket(Marshal(serverKex))
	}()

	config := &ClientConfig{HelloOnly: true}
	config.SetDefaults()

	conn, err := dialHandshake(clientConn, "pipe", config, componentLogger("kex"), time.Now())
	require.NoError(t, err)
	defer conn.Close()
	require.Nil(t, conn.HostKey())
	require.NoError(t, <-serverDone)
}

// runFakeServer plays the server half of the handshake this core's client
// drives: version banners, curve25519-sha256 kex with ssh-ed25519 host
// verification, aes256-ctr/hmac-sha2-256 key install, "none"/"password"
// userauth, and a single exec channel that writes output then an
// exit-status of exitStatus before closing.
func runFakeServer(conn net.Conn, hostPub ed25519.PublicKey, hostPriv ed25519.PrivateKey, output string, exitStatus uint32) error {
	serverBanner := "SSH-2.0-coresshtestsrv"
	clientBannerLine, err := readBannerLine(conn)
	if err != nil {
		return err
	}
	if _, err := conn.Write([]byte(serverBanner + "\r\n")); err != nil {
		return err
	}

	spc := newPacketConn(conn, constantReader{}, nil)

	clientKexPacket, err := spc.readPacket()
	if err != nil {
		return err
	}
	clientKex := &KexInitMsg{}
	if err := Unmarshal(clientKexPacket, clientKex); err != nil {
		return err
	}

	serverKex, err := buildKexInit(constantReader{})
	if err != nil {
		return err
	}
	serverKexPacket := Marshal(serverKex)
	if err := spc.writePacket(serverKexPacket); err != nil {
		return err
	}

	var serverPriv [32]byte
	if _, err := io.ReadFull(constantReader{}, serverPriv[:]); err != nil {
		return err
	}
	serverPub, err := curve25519.X25519(serverPriv[:], curve25519.Basepoint)
	if err != nil {
		return err
	}

	kexdhInitPacket, err := spc.readPacket()
	if err != nil {
		return err
	}
	init := &kexdhInitMsg{}
	if err := Unmarshal(kexdhInitPacket, init); err != nil {
		return err
	}

	sharedSecret, err := curve25519.X25519(serverPriv[:], init.ClientPubKey)
	if err != nil {
		return err
	}

	hostKeyBlob := Blob{Header: hostKeyAlgoED25519, Content: []byte(hostPub)}
	hashInput := &exchangeHashInput{
		ClientBanner:         clientBannerLine,
		ServerBanner:         serverBanner,
		ClientKexInitPayload: clientKexPacket,
		ServerKexInitPayload: serverKexPacket,
		HostKeyBlob:          hostKeyBlob,
		ClientEphPub:         init.ClientPubKey,
		ServerEphPub:         serverPub,
		SharedSecret:         MPInt(sharedSecret),
	}
	hSum := sha256.Sum256(Marshal(hashInput))
	h := hSum[:]
	sig := ed25519.Sign(hostPriv, h)

	if err := spc.writePacket(Marshal(&kexdhReplyMsg{
		HostKey:      hostKeyBlob,
		ServerPubKey: serverPub,
		Signature:    Blob{Header: hostKeyAlgoED25519, Content: sig},
	})); err != nil {
		return err
	}

	// The client sends its NewKeys before reading ours, and net.Pipe writes
	// block until the other end reads, so read first, then answer.
	ack, err := spc.readPacket()
	if err != nil {
		return err
	}
	if ack[0] != msgNewKeys {
		return unexpectedMessageError(msgNewKeys, ack[0])
	}
	if err := spc.writePacket([]byte{msgNewKeys}); err != nil {
		return err
	}

	// Session ID is H from the first key exchange; this is the only key
	// exchange this fake server performs.
	sessionID := h
	c2s, s2c := deriveDirectionKeys(sharedSecret, h, sessionID)
	readStream, err := newAES256CTRStream(c2s.encKey, c2s.iv)
	if err != nil {
		return err
	}
	writeStream, err := newAES256CTRStream(s2c.encKey, s2c.iv)
	if err != nil {
		return err
	}
	spc.installReadKeys(readStream, c2s.integKey)
	spc.installWriteKeys(writeStream, s2c.integKey)

	svcReqPacket, err := spc.readPacket()
	if err != nil {
		return err
	}
	svcReq := &serviceRequestMsg{}
	if err := Unmarshal(svcReqPacket, svcReq); err != nil {
		return err
	}
	if err := spc.writePacket(Marshal(&serviceAcceptMsg{Service: svcReq.Service})); err != nil {
		return err
	}

	authPacket, err := spc.readPacket()
	if err != nil {
		return err
	}
	authReq, err := parseUserauthRequest(authPacket)
	if err != nil {
		return err
	}
	if authReq.Method != "password" || authReq.Password != "s3cret" {
		return spc.writePacket(Marshal(&userauthFailureMsg{Methods: "password"}))
	}
	if err := spc.writePacket(Marshal(&userauthSuccessMsg{})); err != nil {
		return err
	}

	openPacket, err := spc.readPacket()
	if err != nil {
		return err
	}
	open := &channelOpenMsg{}
	if err := Unmarshal(openPacket, open); err != nil {
		return err
	}
	if err := spc.writePacket(Marshal(&channelOpenConfirmationMsg{
		ClientChannel:           open.ClientChannel,
		ServerChannel:           0,
		ServerInitialWindowSize: ^uint32(0),
		ServerMaxPacketSize:     256 * 1024,
	})); err != nil {
		return err
	}

	execPacket, err := spc.readPacket()
	if err != nil {
		return err
	}
	execReq, err := parseChannelRequest(execPacket)
	if err != nil {
		return err
	}
	if execReq.RequestType != "exec" {
		return newErr(KindUnexpectedMessageType, "expected exec channel request")
	}
	if err := spc.writePacket(Marshal(&channelSuccessMsg{RecipientChannel: open.ClientChannel})); err != nil {
		return err
	}

	if err := spc.writePacket(Marshal(&channelDataMsg{RecipientChannel: open.ClientChannel, Data: []byte(output)})); err != nil {
		return err
	}
	exitReq := &channelRequest{RecipientChannel: open.ClientChannel, RequestType: "exit-status", ExitStatus: exitStatus}
	if err := spc.writePacket(exitReq.dump()); err != nil {
		return err
	}
	if err := spc.writePacket(Marshal(&channelCloseMsg{RecipientChannel: open.ClientChannel})); err != nil {
		return err
	}

	closeAck, err := spc.readPacket()
	if err != nil {
		return err
	}
	if closeAck[0] != msgChannelClose {
		return unexpectedMessageError(msgChannelClose, closeAck[0])
	}
	return nil
}
