package ssh

// channelRequest is the RFC 4254 section 5.4/6.4/6.5/6.10 variant of
// SSH_MSG_CHANNEL_REQUEST this core exchanges. Request type selects which
// tail fields are meaningful, so, like userauthRequest, it is hand-parsed
// rather than routed through the reflective codec.
type channelRequest struct {
	RecipientChannel uint32
	RequestType      string
	WantReply        bool

	// exec
	Command string

	// env
	Name  string
	Value string

	// exit-status
	ExitStatus uint32
}

func (channelRequest) msgType() byte { return msgChannelRequest }

func newExecRequest(recipient uint32, command string) *channelRequest {
	return &channelRequest{
		RecipientChannel: recipient,
		RequestType:      "exec",
		WantReply:        true,
		Command:          command,
	}
}

func newEnvRequest(recipient uint32, name, value string) *channelRequest {
	return &channelRequest{
		RecipientChannel: recipient,
		RequestType:      "env",
		WantReply:        false,
		Name:             name,
		Value:            value,
	}
}

func (m *channelRequest) dump() []byte {
	buf := []byte{msgChannelRequest}
	buf = appendU32(buf, m.RecipientChannel)
	buf = appendString(buf, m.RequestType)
	buf = appendBool(buf, m.WantReply)

	switch m.RequestType {
	case "exec":
		buf = appendString(buf, m.Command)
	case "env":
		buf = appendString(buf, m.Name)
		buf = appendString(buf, m.Value)
	case "exit-status":
		if m.WantReply {
			panic("ssh: exit-status channel request must not want a reply")
		}
		buf = appendU32(buf, m.ExitStatus)
	default:
		panic("ssh: dump of unsupported channel request type " + m.RequestType)
	}
	return buf
}

func parseChannelRequest(payload []byte) (*channelRequest, error) {
	r := &reader{buf: payload}
	got, err := r.u8()
	if err != nil {
		return nil, err
	}
	if got != msgChannelRequest {
		return nil, unexpectedMessageError(msgChannelRequest, got)
	}

	m := &channelRequest{}
	if m.RecipientChannel, err = r.u32(); err != nil {
		return nil, err
	}
	if m.RequestType, err = r.string(); err != nil {
		return nil, err
	}
	if m.WantReply, err = r.bool(); err != nil {
		return nil, err
	}

	switch m.RequestType {
	case "exec":
		if m.Command, err = r.string(); err != nil {
			return nil, err
		}
	case "env":
		if m.Name, err = r.string(); err != nil {
			return nil, err
		}
		if m.Value, err = r.string(); err != nil {
			return nil, err
		}
	case "exit-status":
		if m.WantReply {
			return nil, newErr(KindInvalidData, "exit-status channel request must not want a reply")
		}
		if m.ExitStatus, err = r.u32(); err != nil {
			return nil, err
		}
	default:
		// Opaque "other": common prefix only, no dumpable tail. The
		// caller sees RequestType and can ignore or reject it.
	}
	return m, nil
}
