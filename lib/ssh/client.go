package ssh

import (
	"context"
	"crypto/ed25519"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultClientVersion = packageVersion

// ClientConfig configures Dial. Unlike a general-purpose SSH client it
// carries no algorithm-selection lists: the suite is fixed, so that knob
// is deliberately absent rather than merely defaulted.
type ClientConfig struct {
	Config

	// User is the username sent with every userauth request.
	User string

	// Auth lists the authentication method to attempt. Only Auth[0] is
	// used: there is no retry-with-next-method loop.
	Auth []AuthMethod

	// HostKeyCallback is called with the negotiated ed25519 host key
	// once the exchange hash signature has verified. Dial rejects a nil
	// value rather than silently trusting every host key.
	HostKeyCallback func(hostname string, remote net.Addr, key ed25519.PublicKey) error

	// ClientVersion overrides the version banner this core sends.
	// Defaults to packageVersion.
	ClientVersion string

	// Timeout bounds the TCP dial and is applied as a read/write
	// deadline on the connection immediately after dialing. Zero means
	// no deadline.
	Timeout time.Duration

	// HelloOnly stops Dial after the version banner and KexInit exchange,
	// before any ECDH, host verification, or authentication is attempted,
	// and returns a Connection with no session keys; only HandshakeLog
	// inspection and Close are meaningful afterward.
	HelloOnly bool

	// DontAuthenticate sends a "none" userauth request instead of
	// attempting Auth[0], recording the server's advertised methods on
	// ConnLog.UserAuthMethods.
	DontAuthenticate bool
}

// Connection is one SSH connection driven through the fixed-suite
// handshake, optionally authenticated, with at most one active Run at a
// time.
type Connection struct {
	conn    net.Conn
	pc      *packetConn
	metrics *connMetrics

	sessionID []byte
	hostKey   ed25519.PublicKey

	nextChannel uint32
	run         *Run
}

// HostKey returns the ed25519 host key verified during the handshake, or
// nil if Dial was called with HelloOnly.
func (c *Connection) HostKey() ed25519.PublicKey { return c.hostKey }

// MutateConn exposes the underlying net.Conn so a caller can adjust
// deadlines or keepalive settings, typically once after authentication
// and before driving Run.Poll in a loop.
func (c *Connection) MutateConn(f func(net.Conn)) {
	f(c.conn)
}

// Close closes the underlying transport, best-effort closing any open Run
// first.
func (c *Connection) Close() error {
	if c.run != nil && !c.run.closed {
		c.run.Close()
	}
	return c.conn.Close()
}

// Dial opens network/addr, exchanges version banners, performs the fixed
// key exchange, verifies the host key, requests the userauth service, and
// authenticates. HelloOnly and DontAuthenticate short-circuit this
// sequence per their doc comments on ClientConfig.
func Dial(ctx context.Context, network, addr string, config *ClientConfig) (*Connection, error) {
	log := componentLogger("kex")
	start := time.Now()

	fullConfig := *config
	fullConfig.SetDefaults()
	if fullConfig.ClientVersion == "" {
		fullConfig.ClientVersion = defaultClientVersion
	}

	dialer := net.Dialer{Timeout: fullConfig.Timeout}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, wrapErr(KindTransportIO, "dialing "+addr, err)
	}
	log.WithField("addr", addr).Debug("tcp connected")

	conn, err := dialHandshake(rawConn, addr, &fullConfig, log, start)
	if err != nil {
		rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func dialHandshake(rawConn net.Conn, addr string, fullConfig *ClientConfig, log *logrus.Entry, start time.Time) (*Connection, error) {
	if fullConfig.Timeout != 0 {
		rawConn.SetDeadline(time.Now().Add(fullConfig.Timeout))
	}

	clientBanner := fullConfig.ClientVersion
	serverBanner, err := exchangeVersions(rawConn, clientBanner)
	if err != nil {
		return nil, err
	}
	if fullConfig.ConnLog != nil {
		fullConfig.ConnLog.ClientID = parseEndpointID(clientBanner)
		fullConfig.ConnLog.ServerID = parseEndpointID(serverBanner)
	}
	log.WithField("server_banner", serverBanner).Debug("version banners exchanged")

	metrics := newConnMetrics(fullConfig.Registerer)
	pc := newPacketConn(rawConn, fullConfig.Rand, metrics)
	c := &Connection{conn: rawConn, pc: pc, metrics: metrics}

	init, err := exchangeKexInit(pc, &fullConfig.Config)
	if err != nil {
		return nil, err
	}

	if fullConfig.HelloOnly {
		log.Debug("HelloOnly set, stopping after KexInit exchange")
		return c, nil
	}

	result, err := completeKeyExchange(pc, clientBanner, serverBanner, init, &fullConfig.Config)
	if err != nil {
		return nil, err
	}
	c.sessionID = result.h
	c.hostKey = result.hostKey

	if fullConfig.Verbose && fullConfig.ConnLog != nil {
		fullConfig.ConnLog.KexResult = &VerboseKexResult{
			ExchangeHash: result.h,
			SharedSecret: result.sharedSecret,
		}
	}

	if fullConfig.HostKeyCallback == nil {
		return nil, newErr(KindHostKeyNotVerifiable, "ClientConfig.HostKeyCallback is required")
	}
	if err := fullConfig.HostKeyCallback(addr, rawConn.RemoteAddr(), result.hostKey); err != nil {
		return nil, wrapErr(KindHostKeyNotVerifiable, "host key rejected", err)
	}

	if err := installDerivedKeys(pc, result.sharedSecret, result.h, c.sessionID); err != nil {
		return nil, err
	}

	if err := requestUserAuthService(pc); err != nil {
		return nil, err
	}

	authLog := componentLogger("auth")

	if fullConfig.DontAuthenticate {
		methods, err := probeAuthMethods(pc, fullConfig.User)
		if err != nil {
			return nil, err
		}
		if fullConfig.ConnLog != nil {
			fullConfig.ConnLog.UserAuthMethods = &methods
		}
		authLog.WithField("methods", methods).Debug("probed auth methods, DontAuthenticate set")
		c.metrics.observeHandshake(time.Since(start).Seconds())
		return c, nil
	}

	if len(fullConfig.Auth) == 0 {
		return nil, newErr(KindAuthenticationFailure, "no AuthMethod configured")
	}
	if err := fullConfig.Auth[0].authenticate(pc, fullConfig.User, c.sessionID); err != nil {
		authLog.WithError(err).Debug("authentication failed")
		return nil, err
	}
	authLog.Debug("authenticated")

	c.metrics.observeHandshake(time.Since(start).Seconds())
	return c, nil
}

// Run opens a session channel and issues an exec request for command,
// with env applied beforehand as channel requests.
func (c *Connection) Run(ctx context.Context, command string, env map[string]string) (*RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(KindTimeout, "context canceled before channel open", err)
	}
	result, err := openRun(c, command, env)
	if err != nil {
		return nil, err
	}
	if result.Accepted {
		c.run = result.Run
	}
	return result, nil
}

// quickRunPollInterval is the sleep between Poll calls QuickRun and its
// variants use while draining a channel to completion.
const quickRunPollInterval = 10 * time.Millisecond

// QuickRun opens command, collects stdout/stderr as strings until the
// channel reports EventStopped, and returns the exit status.
func QuickRun(ctx context.Context, conn *Connection, command string, env map[string]string) (stdout, stderr string, exitStatus uint32, err error) {
	outBytes, errBytes, status, err := QuickRunBytes(ctx, conn, command, env)
	return string(outBytes), string(errBytes), status, err
}

// QuickRunBytes is QuickRun without the string conversion.
func QuickRunBytes(ctx context.Context, conn *Connection, command string, env map[string]string) (stdout, stderr []byte, exitStatus uint32, err error) {
	result, err := conn.Run(ctx, command, env)
	if err != nil {
		return nil, nil, 0, err
	}
	if !result.Accepted {
		return nil, nil, 0, newErr(KindUnexpectedMessageType, "server refused exec request")
	}
	run := result.Run

	var out, errOut []byte
	for {
		ev, err := run.Poll(ctx)
		if err != nil {
			return out, errOut, 0, err
		}
		switch ev.Kind {
		case EventData:
			out = append(out, ev.Data...)
		case EventStderr:
			errOut = append(errOut, ev.Data...)
		case EventStopped:
			var status uint32
			if ev.ExitStatus != nil {
				status = *ev.ExitStatus
			}
			return out, errOut, status, nil
		case EventNone:
			time.Sleep(quickRunPollInterval)
		}
	}
}

// QuickRunBlind opens command and discards all channel output, returning
// only the exit status once the channel closes.
func QuickRunBlind(ctx context.Context, conn *Connection, command string, env map[string]string) (exitStatus uint32, err error) {
	_, _, status, err := QuickRunBytes(ctx, conn, command, env)
	return status, err
}
