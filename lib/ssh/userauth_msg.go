package ssh

// userauthRequest is the RFC 4252 section 5 SSH_MSG_USERAUTH_REQUEST
// variant. Unlike the fixed-shape messages in messages.go, its tail
// depends on the string-valued Method field, so it is hand-parsed rather
// than routed through the reflective Marshal/Unmarshal pair.
type userauthRequest struct {
	Username    string
	ServiceName string
	Method      string // "publickey", "password" or "none"; anything else is Unimplemented

	// publickey fields
	Algorithm string
	PubKey    Blob
	Signature *Blob // nil on phase 1

	// password fields
	Password    string
	NewPassword *string
}

func (userauthRequest) msgType() byte { return msgUserauthRequest }

func newPublicKeyRequest(username, service, algo string, pubKey Blob, sig *Blob) *userauthRequest {
	return &userauthRequest{
		Username:    username,
		ServiceName: service,
		Method:      "publickey",
		Algorithm:   algo,
		PubKey:      pubKey,
		Signature:   sig,
	}
}

func newPasswordRequest(username, service, password string) *userauthRequest {
	return &userauthRequest{
		Username:    username,
		ServiceName: service,
		Method:      "password",
		Password:    password,
	}
}

func newNoneRequest(username, service string) *userauthRequest {
	return &userauthRequest{
		Username:    username,
		ServiceName: service,
		Method:      "none",
	}
}

func (m *userauthRequest) dump() []byte {
	buf := []byte{msgUserauthRequest}
	buf = appendString(buf, m.Username)
	buf = appendString(buf, m.ServiceName)
	buf = appendString(buf, m.Method)

	switch m.Method {
	case "publickey":
		buf = appendBool(buf, m.Signature != nil)
		buf = appendString(buf, m.Algorithm)
		buf = appendBlob(buf, m.PubKey)
		if m.Signature != nil {
			buf = appendBlob(buf, *m.Signature)
		}
	case "password":
		buf = appendBool(buf, m.NewPassword != nil)
		buf = appendString(buf, m.Password)
		if m.NewPassword != nil {
			buf = appendString(buf, *m.NewPassword)
		}
	case "none":
		// no tail
	default:
		panic("ssh: dump of unsupported userauth method " + m.Method)
	}
	return buf
}

func parseUserauthRequest(payload []byte) (*userauthRequest, error) {
	r := &reader{buf: payload}
	got, err := r.u8()
	if err != nil {
		return nil, err
	}
	if got != msgUserauthRequest {
		return nil, unexpectedMessageError(msgUserauthRequest, got)
	}

	m := &userauthRequest{}
	if m.Username, err = r.string(); err != nil {
		return nil, err
	}
	if m.ServiceName, err = r.string(); err != nil {
		return nil, err
	}
	if m.Method, err = r.string(); err != nil {
		return nil, err
	}
	if m.Method == "none" {
		// RFC 4252 section 5.2: no has_option byte and no tail.
		return m, nil
	}
	hasOption, err := r.bool()
	if err != nil {
		return nil, err
	}

	switch m.Method {
	case "publickey":
		if m.Algorithm, err = r.string(); err != nil {
			return nil, err
		}
		if m.PubKey, err = r.blob(); err != nil {
			return nil, err
		}
		if hasOption {
			sig, err := r.blob()
			if err != nil {
				return nil, err
			}
			m.Signature = &sig
		}
	case "password":
		if m.Password, err = r.string(); err != nil {
			return nil, err
		}
		if hasOption {
			np, err := r.string()
			if err != nil {
				return nil, err
			}
			m.NewPassword = &np
		}
	default:
		return nil, wrapErr(KindUnimplemented, "unsupported userauth method "+m.Method, nil)
	}
	return m, nil
}
