package ssh

// Message-type numbers, RFC 4250 section 4.1.2 / 4.1.3 / 4.1.4.
const (
	msgDisconnect     = 1
	msgIgnore         = 2
	msgUnimplemented  = 3
	msgDebug          = 4
	msgServiceRequest = 5
	msgServiceAccept  = 6

	msgKexInit    = 20
	msgNewKeys    = 21
	msgKexdhInit  = 30
	msgKexdhReply = 31

	msgUserauthRequest = 50
	msgUserauthFailure = 51
	msgUserauthSuccess = 52
	msgUserauthBanner  = 53 // reserved: never parsed or dumped by this core
	msgUserauthPkOk    = 60

	msgGlobalRequest = 80

	msgChannelOpen             = 90
	msgChannelOpenConfirmation = 91
	msgChannelOpenFailure      = 92
	msgChannelWindowAdjust     = 93
	msgChannelData             = 94
	msgChannelExtendedData     = 95
	msgChannelEOF              = 96
	msgChannelClose            = 97
	msgChannelRequest          = 98
	msgChannelSuccess          = 99
	msgChannelFailure          = 100
)

// Disconnect reason codes, RFC 4253 section 11.1. Only used for
// diagnostics; this core never initiates a disconnect itself.
const (
	DisconnectHostNotAllowedToConnect     = 1
	DisconnectProtocolError               = 2
	DisconnectKeyExchangeFailed           = 3
	DisconnectReserved                    = 4
	DisconnectMACError                    = 5
	DisconnectCompressionError            = 6
	DisconnectServiceNotAvailable         = 7
	DisconnectProtocolVersionNotSupported = 8
	DisconnectHostKeyNotVerifiable        = 9
	DisconnectConnectionLost              = 10
	DisconnectByApplication               = 11
	DisconnectTooManyConnections          = 12
	DisconnectAuthCancelledByUser         = 13
	DisconnectNoMoreAuthMethods           = 14
	DisconnectIllegalUsername             = 15
)

// disconnectMsg is RFC 4253 section 11.1's SSH_MSG_DISCONNECT, sent by a
// peer closing the connection. This core only ever receives one; it never
// initiates a disconnect itself.
type disconnectMsg struct {
	ReasonCode uint32
	Message    string
	Language   string
}

func (disconnectMsg) msgType() byte { return msgDisconnect }

type unimplementedMsg struct {
	PacketNumber uint32
}

func (unimplementedMsg) msgType() byte { return msgUnimplemented }

type debugMsg struct {
	AlwaysDisplay bool
	Message       string
	Language      string
}

func (debugMsg) msgType() byte { return msgDebug }

type serviceRequestMsg struct {
	Service string
}

func (serviceRequestMsg) msgType() byte { return msgServiceRequest }

type serviceAcceptMsg struct {
	Service string
}

func (serviceAcceptMsg) msgType() byte { return msgServiceAccept }

// KexInitMsg is RFC 4253 section 7.1's SSH_MSG_KEXINIT. This core always
// offers exactly the algorithm suite fixed in the data model, one name per
// algorithm list (the language lists stay empty), and requires each of the
// peer's eight algorithm lists to include that name.
type KexInitMsg struct {
	Cookie                  [16]byte
	KexAlgos                NameList
	ServerHostKeyAlgos      NameList
	CiphersClientServer     NameList
	CiphersServerClient     NameList
	MACsClientServer        NameList
	MACsServerClient        NameList
	CompressionClientServer NameList
	CompressionServerClient NameList
	LanguagesClientServer   NameList
	LanguagesServerClient   NameList
	FirstKexFollows         bool
	Reserved                uint32
}

func (*KexInitMsg) msgType() byte { return msgKexInit }

type newKeysMsg struct{}

func (newKeysMsg) msgType() byte { return msgNewKeys }

type kexdhInitMsg struct {
	ClientPubKey []byte
}

func (kexdhInitMsg) msgType() byte { return msgKexdhInit }

type kexdhReplyMsg struct {
	HostKey      Blob
	ServerPubKey []byte
	Signature    Blob
}

func (kexdhReplyMsg) msgType() byte { return msgKexdhReply }

type userauthFailureMsg struct {
	Methods        string
	PartialSuccess bool
}

func (userauthFailureMsg) msgType() byte { return msgUserauthFailure }

type userauthSuccessMsg struct{}

func (userauthSuccessMsg) msgType() byte { return msgUserauthSuccess }

type userauthPkOkMsg struct {
	Algo string
	Blob Blob
}

func (userauthPkOkMsg) msgType() byte { return msgUserauthPkOk }

type channelOpenMsg struct {
	ChannelType             string
	ClientChannel           uint32
	ClientInitialWindowSize uint32
	ClientMaxPacketSize     uint32
}

func (channelOpenMsg) msgType() byte { return msgChannelOpen }

type channelOpenConfirmationMsg struct {
	ClientChannel           uint32
	ServerChannel           uint32
	ServerInitialWindowSize uint32
	ServerMaxPacketSize     uint32
}

func (channelOpenConfirmationMsg) msgType() byte { return msgChannelOpenConfirmation }

type channelOpenFailureMsg struct {
	RecipientChannel uint32
	ReasonCode       uint32
	Message          string
	Language         string
}

func (channelOpenFailureMsg) msgType() byte { return msgChannelOpenFailure }

type channelWindowAdjustMsg struct {
	RecipientChannel uint32
	BytesToAdd       uint32
}

func (channelWindowAdjustMsg) msgType() byte { return msgChannelWindowAdjust }

type channelDataMsg struct {
	RecipientChannel uint32
	Data             []byte
}

func (channelDataMsg) msgType() byte { return msgChannelData }

type channelExtendedDataMsg struct {
	RecipientChannel uint32
	DataType         uint32
	Data             []byte
}

func (channelExtendedDataMsg) msgType() byte { return msgChannelExtendedData }

// SSH_EXTENDED_DATA_STDERR, RFC 4254 section 5.2.
const extendedDataStderr = 1

type channelEOFMsg struct {
	RecipientChannel uint32
}

func (channelEOFMsg) msgType() byte { return msgChannelEOF }

type channelCloseMsg struct {
	RecipientChannel uint32
}

func (channelCloseMsg) msgType() byte { return msgChannelClose }

type channelSuccessMsg struct {
	RecipientChannel uint32
}

func (channelSuccessMsg) msgType() byte { return msgChannelSuccess }

type channelFailureMsg struct {
	RecipientChannel uint32
}

func (channelFailureMsg) msgType() byte { return msgChannelFailure }

// exchangeHashInput is the untagged helper record fed to SHA-256 to
// produce H (see kex.go). It carries no message-type byte.
type exchangeHashInput struct {
	ClientBanner         string
	ServerBanner         string
	ClientKexInitPayload []byte
	ServerKexInitPayload []byte
	HostKeyBlob          Blob
	ClientEphPub         []byte
	ServerEphPub         []byte
	SharedSecret         MPInt
}

// peekGlobalRequestWantReply reads just enough of a SSH_MSG_GLOBAL_REQUEST
// payload (message type already stripped) to recover want_reply, without
// parsing the request-specific tail that follows it.
func peekGlobalRequestWantReply(payload []byte) (bool, error) {
	r := &reader{buf: payload}
	if _, err := r.string(); err != nil {
		return false, err
	}
	return r.bool()
}
