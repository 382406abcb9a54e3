// Package apdu implements the ISO/IEEE 11073-20601 association-control
// APDUs (AARQ/AARE/RLRQ/RLRE/ABRT/PRST) on top of the MDER byte codec.
//
// Shapes follow the teacher's pdu.go: an APDU interface with
// WritePayload/String, a byte-for-byte EncodeAPDU/DecodeAPDU pair that
// handles the common choice/length header once, and small structs per
// variant.
package apdu

import (
	"fmt"

	"github.com/signove/phd-manager/mder"
)

// Choice is the 2-byte tag at the start of every APDU.
type Choice uint16

// APDU choice values, per the ISO/IEEE 11073-20601 association-control
// service (Annex: the high byte groups the six association/release/abort
// primitives; the low byte is reserved zero at this layer).
const (
	ChoiceAARQ Choice = 0xE200
	ChoiceAARE Choice = 0xE300
	ChoiceRLRQ Choice = 0xE400
	ChoiceRLRE Choice = 0xE500
	ChoiceABRT Choice = 0xE600
	ChoicePRST Choice = 0xE700
)

func (c Choice) String() string {
	switch c {
	case ChoiceAARQ:
		return "AARQ"
	case ChoiceAARE:
		return "AARE"
	case ChoiceRLRQ:
		return "RLRQ"
	case ChoiceRLRE:
		return "RLRE"
	case ChoiceABRT:
		return "ABRT"
	case ChoicePRST:
		return "PRST"
	default:
		return fmt.Sprintf("Choice(0x%04x)", uint16(c))
	}
}

// APDU is the common interface implemented by every association-control
// message.
type APDU interface {
	Choice() Choice
	writePayload(*mder.Writer)
	fmt.Stringer
}

// Encode serializes pdu as choice:u16 length:u16 payload.
func Encode(pdu APDU) ([]byte, error) {
	w := mder.NewWriter()
	w.WriteU16(uint16(pdu.Choice()))
	lenPos := w.ReserveU16()
	payloadStart := len(w.Bytes())
	pdu.writePayload(w)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("apdu: encode %v: %w", pdu.Choice(), err)
	}
	w.CommitU16(lenPos, uint16(len(w.Bytes())-payloadStart))
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeError reports a failure to parse an APDU. Per spec, callers treat
// this as "ignore the APDU", never as an FSM transition.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("apdu: decode at %d: %v", e.Offset, e.Err)
}
func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses a single complete APDU from buf.
func Decode(buf []byte) (APDU, error) {
	r := mder.NewReader(buf)
	choice := Choice(r.ReadU16())
	length := int(r.ReadU16())
	if err := r.Err(); err != nil {
		return nil, &DecodeError{0, err}
	}
	if r.Len() < length {
		return nil, &DecodeError{4, fmt.Errorf("declared length %d exceeds available %d", length, r.Len())}
	}
	body := mder.NewReader(r.ReadBytes(length))
	var pdu APDU
	switch choice {
	case ChoiceAARQ:
		pdu = decodeAARQ(body)
	case ChoiceAARE:
		pdu = decodeAARE(body)
	case ChoiceRLRQ:
		pdu = decodeRLRQ(body)
	case ChoiceRLRE:
		pdu = decodeRLRE(body)
	case ChoiceABRT:
		pdu = decodeABRT(body)
	case ChoicePRST:
		pdu = decodePRST(body)
	default:
		return nil, &DecodeError{0, fmt.Errorf("unknown APDU choice 0x%04x", uint16(choice))}
	}
	if err := body.Err(); err != nil {
		return nil, &DecodeError{6, err}
	}
	return pdu, nil
}

// ConfigAssertion is the Agent's claim about whether the Manager already
// knows its object configuration, encoded in the AARQ.
type ConfigAssertion uint8

const (
	// ConfigUnknown asks the Manager to expect a ConfigReport via an
	// roiv-confirmed-event-report before entering Operating.
	ConfigUnknown ConfigAssertion = iota
	// ConfigKnown asserts the Manager can resolve ConfigID from its
	// standard-config registry or extended-config cache.
	ConfigKnown
)

func (a ConfigAssertion) String() string {
	if a == ConfigKnown {
		return "known"
	}
	return "unknown"
}

// AARQ is the association request.
type AARQ struct {
	ProtocolVersion uint16
	SystemID        []byte // 11073 system-id, usually an EUI-64
	ConfigID        uint16 // dev-configuration-id
	Config          ConfigAssertion
	SystemType      uint16 // system-type-spec-list, first entry only (simplified)
}

func (a *AARQ) Choice() Choice { return ChoiceAARQ }

func (a *AARQ) writePayload(w *mder.Writer) {
	w.WriteU16(a.ProtocolVersion)
	w.WriteU16(uint16(len(a.SystemID)))
	w.WriteBytes(a.SystemID)
	w.WriteU16(a.ConfigID)
	w.WriteU8(uint8(a.Config))
	w.WriteU16(a.SystemType)
}

func decodeAARQ(r *mder.Reader) *AARQ {
	a := &AARQ{}
	a.ProtocolVersion = r.ReadU16()
	n := int(r.ReadU16())
	a.SystemID = r.ReadBytes(n)
	a.ConfigID = r.ReadU16()
	a.Config = ConfigAssertion(r.ReadU8())
	a.SystemType = r.ReadU16()
	return a
}

func (a *AARQ) String() string {
	return fmt.Sprintf("AARQ{version:%d system-id:%x config-id:0x%04x (%v)}",
		a.ProtocolVersion, a.SystemID, a.ConfigID, a.Config)
}

// AssociateResult mirrors the association-result enumeration.
type AssociateResult uint8

const (
	ResultAccepted AssociateResult = iota
	ResultRejectedPermanent
	ResultRejectedTransient
	// ResultAcceptedUnknownConfig indicates the Manager accepted the
	// association but still needs a ConfigReport (it enters
	// WaitingForConfig, not Operating).
	ResultAcceptedUnknownConfig
)

// AARE is the association response.
type AARE struct {
	ProtocolVersion uint16
	Result          AssociateResult
	ConfigID        uint16 // echoed back once accepted
}

func (a *AARE) Choice() Choice { return ChoiceAARE }

func (a *AARE) writePayload(w *mder.Writer) {
	w.WriteU16(a.ProtocolVersion)
	w.WriteU8(uint8(a.Result))
	w.WriteU16(a.ConfigID)
}

func decodeAARE(r *mder.Reader) *AARE {
	a := &AARE{}
	a.ProtocolVersion = r.ReadU16()
	a.Result = AssociateResult(r.ReadU8())
	a.ConfigID = r.ReadU16()
	return a
}

func (a *AARE) String() string {
	return fmt.Sprintf("AARE{version:%d result:%d config-id:0x%04x}", a.ProtocolVersion, a.Result, a.ConfigID)
}

// RLRQ is the release request.
type RLRQ struct {
	// Reason is 0 (normal) unless otherwise noted; kept for wire symmetry
	// with RLRE even though this Manager only ever sends the normal form.
	Reason uint8
}

func (r *RLRQ) Choice() Choice { return ChoiceRLRQ }

func (r *RLRQ) writePayload(w *mder.Writer) { w.WriteU8(r.Reason) }

func decodeRLRQ(rd *mder.Reader) *RLRQ { return &RLRQ{Reason: rd.ReadU8()} }

func (r *RLRQ) String() string { return fmt.Sprintf("RLRQ{reason:%d}", r.Reason) }

// RLRE is the release response.
type RLRE struct {
	Reason uint8
}

func (r *RLRE) Choice() Choice { return ChoiceRLRE }

func (r *RLRE) writePayload(w *mder.Writer) { w.WriteU8(r.Reason) }

func decodeRLRE(rd *mder.Reader) *RLRE { return &RLRE{Reason: rd.ReadU8()} }

func (r *RLRE) String() string { return fmt.Sprintf("RLRE{reason:%d}", r.Reason) }

// AbortReason enumerates why an association was aborted.
type AbortReason uint8

const (
	AbortUndefined AbortReason = iota
	AbortConfigUnsupported
	AbortProtocolError
)

func (a AbortReason) String() string {
	switch a {
	case AbortConfigUnsupported:
		return "config-unsupported"
	case AbortProtocolError:
		return "protocol-error"
	default:
		return "undefined"
	}
}

// ABRT is the abort notification. Abort is unconfirmed: the sender tears
// down locally without waiting for a peer response.
type ABRT struct {
	Reason AbortReason
}

func (a *ABRT) Choice() Choice { return ChoiceABRT }

func (a *ABRT) writePayload(w *mder.Writer) { w.WriteU8(uint8(a.Reason)) }

func decodeABRT(r *mder.Reader) *ABRT { return &ABRT{Reason: AbortReason(r.ReadU8())} }

func (a *ABRT) String() string { return fmt.Sprintf("ABRT{reason:%v}", a.Reason) }

// PRST carries an opaque Data-APDU (see package dataapdu), encoded as an
// octet string so the association layer never has to know the message
// taxonomy underneath it.
type PRST struct {
	Payload []byte
}

func (p *PRST) Choice() Choice { return ChoicePRST }

func (p *PRST) writePayload(w *mder.Writer) {
	w.WriteU16(uint16(len(p.Payload)))
	w.WriteBytes(p.Payload)
}

func decodePRST(r *mder.Reader) *PRST {
	n := int(r.ReadU16())
	return &PRST{Payload: r.ReadBytes(n)}
}

func (p *PRST) String() string { return fmt.Sprintf("PRST{%d bytes}", len(p.Payload)) }
