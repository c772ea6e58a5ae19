package sniproxy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	recordTypeHandshake  = 22
	handshakeClientHello = 1
	extensionServerName  = 0

	// maxRecordLen bounds how much of the first TLS record we buffer
	// while looking for the SNI extension.
	maxRecordLen = 16384
)

// ErrNoServerName means the ClientHello parsed cleanly but carried no
// SNI extension. Such clients are routed to the default backend.
var ErrNoServerName = errors.New("client hello has no server name")

// ReadServerName reads the first TLS record from r and extracts the SNI
// host name without terminating TLS. It returns every byte consumed so
// the caller can replay them to the chosen backend; consumed is valid
// even when err is non-nil.
func ReadServerName(r io.Reader) (name string, consumed []byte, err error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", nil, fmt.Errorf("failed to read TLS record header: %w", err)
	}
	consumed = header

	if header[0] != recordTypeHandshake {
		return "", consumed, fmt.Errorf("not a TLS handshake record (type %d)", header[0])
	}
	recordLen := int(binary.BigEndian.Uint16(header[3:5]))
	if recordLen == 0 || recordLen > maxRecordLen {
		return "", consumed, fmt.Errorf("implausible TLS record length %d", recordLen)
	}

	record := make([]byte, recordLen)
	if _, err := io.ReadFull(r, record); err != nil {
		return "", consumed, fmt.Errorf("failed to read TLS record body: %w", err)
	}
	consumed = append(consumed, record...)

	name, err = parseClientHello(record)
	return name, consumed, err
}

// parseClientHello walks the handshake message to the server_name
// extension. Offsets follow RFC 8446 section 4.1.2.
func parseClientHello(b []byte) (string, error) {
	// Handshake header: type(1) + length(3)
	if len(b) < 4 || b[0] != handshakeClientHello {
		return "", errors.New("record does not start with a ClientHello")
	}
	b = b[4:]

	// legacy_version(2) + random(32)
	if len(b) < 34 {
		return "", errors.New("ClientHello truncated before session ID")
	}
	b = b[34:]

	// legacy_session_id
	if len(b) < 1 || len(b) < 1+int(b[0]) {
		return "", errors.New("ClientHello truncated in session ID")
	}
	b = b[1+int(b[0]):]

	// cipher_suites
	if len(b) < 2 {
		return "", errors.New("ClientHello truncated before cipher suites")
	}
	n := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+n {
		return "", errors.New("ClientHello truncated in cipher suites")
	}
	b = b[2+n:]

	// legacy_compression_methods
	if len(b) < 1 || len(b) < 1+int(b[0]) {
		return "", errors.New("ClientHello truncated in compression methods")
	}
	b = b[1+int(b[0]):]

	// extensions
	if len(b) < 2 {
		return "", ErrNoServerName
	}
	extLen := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < extLen {
		return "", errors.New("ClientHello truncated in extensions")
	}
	b = b[:extLen]

	for len(b) >= 4 {
		extType := binary.BigEndian.Uint16(b)
		size := int(binary.BigEndian.Uint16(b[2:]))
		b = b[4:]
		if len(b) < size {
			return "", errors.New("ClientHello truncated in extension body")
		}
		if extType == extensionServerName {
			return parseServerNameExtension(b[:size])
		}
		b = b[size:]
	}
	return "", ErrNoServerName
}

// parseServerNameExtension extracts the first host_name entry from a
// server_name extension body (RFC 6066 section 3).
func parseServerNameExtension(b []byte) (string, error) {
	if len(b) < 2 {
		return "", errors.New("server_name extension truncated")
	}
	listLen := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < listLen {
		return "", errors.New("server_name list truncated")
	}
	b = b[:listLen]

	for len(b) >= 3 {
		nameType := b[0]
		size := int(binary.BigEndian.Uint16(b[1:]))
		b = b[3:]
		if len(b) < size {
			return "", errors.New("server_name entry truncated")
		}
		if nameType == 0 { // host_name
			return string(b[:size]), nil
		}
		b = b[size:]
	}
	return "", ErrNoServerName
}
