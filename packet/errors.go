package packet

import "fmt"

// ReasonCode is a CONNACK return code or an internal codec error. MQTT
// 3.1.1 only defines return codes 0x00-0x05 (section 3.2.2.3); values
// above that are tinymqtt's own protocol-violation taxonomy, not wire
// values.
type ReasonCode struct {
	Code   uint8
	Reason string
}

func (rc ReasonCode) Error() string {
	return fmt.Sprintf("%d:%s", rc.Code, rc.Reason)
}

var (
	// CONNACK return codes, MQTT v3.1.1 section 3.2.2.3.
	CodeSuccess                       = ReasonCode{Code: 0x00, Reason: "connection accepted"}
	ErrUnsupportedProtocolVersion     = ReasonCode{Code: 0x01, Reason: "unacceptable protocol version"}
	ErrClientIdentifierNotValid      = ReasonCode{Code: 0x02, Reason: "identifier rejected"}
	ErrServerUnavailable              = ReasonCode{Code: 0x03, Reason: "server unavailable"}
	ErrBadUsernameOrPassword          = ReasonCode{Code: 0x04, Reason: "bad user name or password"}
	ErrNotAuthorized                  = ReasonCode{Code: 0x05, Reason: "not authorized"}

	// Codec / protocol-violation errors. These never travel on the wire;
	// they drive the "close the session, do not reply" path.
	ErrMalformedFlags                = ReasonCode{Code: 0x81, Reason: "malformed packet: reserved flags"}
	ErrMalformedPacketID              = ReasonCode{Code: 0x81, Reason: "malformed packet: packet identifier"}
	ErrMalformedTopic                 = ReasonCode{Code: 0x81, Reason: "malformed packet: topic"}
	ErrMalformedPacket                = ReasonCode{Code: 0x81, Reason: "malformed packet: unknown type"}
	ErrMalformedProtocolName          = ReasonCode{Code: 0x81, Reason: "malformed packet: protocol name"}
	ErrMalformedPassword              = ReasonCode{Code: 0x81, Reason: "malformed packet: password flag set without user name flag"}
	ErrProtocolViolation              = ReasonCode{Code: 0x82, Reason: "protocol violation"}
	ErrProtocolViolationQosOutOfRange = ReasonCode{Code: 0x82, Reason: "protocol violation: qos out of range"}
	ErrProtocolViolationSurplusWildcard = ReasonCode{Code: 0x82, Reason: "protocol violation: topic contains wildcards"}
	ErrProtocolViolationNoFilters     = ReasonCode{Code: 0x82, Reason: "protocol violation: must contain at least one filter"}
	ErrProtocolViolationRequireFirstConnect = ReasonCode{Code: 0x82, Reason: "protocol violation: first packet must be connect"}
	ErrMalformedReasonCode            = ReasonCode{Code: 0x81, Reason: "malformed packet: reason code"}
	ErrPacketTooLarge                 = ReasonCode{Code: 0x95, Reason: "packet too large"}
)
