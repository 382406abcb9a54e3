// Package dataapdu implements the ISO/IEEE 11073-20601 Data-APDU family:
// the invoke-id-tagged roiv/rors/roer/rorj messages carried inside an
// apdu.PRST payload.
//
// The sum-type shape (a Message interface with Encode/String, dispatched
// by a choice field) follows the teacher's dimse package, but the wire
// format itself is fixed-field MDER rather than DICOM's tag-value element
// stream: 11073 objects don't carry a data dictionary on the wire.
package dataapdu

import (
	"fmt"

	"github.com/signove/phd-manager/mder"
)

// MessageChoice is the 2-byte selector at the head of a Data-APDU message.
type MessageChoice uint16

// Message choice values. The low nibble of the high byte groups the four
// operation families (invoke/response/error/reject); Classify extracts it.
const (
	ChoiceROIVEventReport           MessageChoice = 0x0100
	ChoiceROIVConfirmedEventReport  MessageChoice = 0x0101
	ChoiceROIVGet                   MessageChoice = 0x0103
	ChoiceROIVSet                   MessageChoice = 0x0104
	ChoiceROIVConfirmedSet          MessageChoice = 0x0105
	ChoiceROIVAction                MessageChoice = 0x0106
	ChoiceROIVConfirmedAction       MessageChoice = 0x0107
	ChoiceRORSConfirmedEventReport  MessageChoice = 0x0201
	ChoiceRORSGet                   MessageChoice = 0x0203
	ChoiceRORSConfirmedSet          MessageChoice = 0x0205
	ChoiceRORSConfirmedAction       MessageChoice = 0x0207
	ChoiceROER                      MessageChoice = 0x0300
	ChoiceRORJ                      MessageChoice = 0x0400
)

// FamilyMask isolates the operation family from a MessageChoice.
const FamilyMask MessageChoice = 0x0F00

// Family enumerates the four Data-APDU operation kinds.
type Family uint16

const (
	FamilyROIV Family = 0x0100
	FamilyRORS Family = 0x0200
	FamilyROER Family = 0x0300
	FamilyRORJ Family = 0x0400
)

// Classify returns the operation family a choice belongs to.
func Classify(c MessageChoice) Family { return Family(c & FamilyMask) }

func (c MessageChoice) String() string {
	switch c {
	case ChoiceROIVEventReport:
		return "ROIV-EVENT-REPORT"
	case ChoiceROIVConfirmedEventReport:
		return "ROIV-CONFIRMED-EVENT-REPORT"
	case ChoiceROIVGet:
		return "ROIV-GET"
	case ChoiceROIVSet:
		return "ROIV-SET"
	case ChoiceROIVConfirmedSet:
		return "ROIV-CONFIRMED-SET"
	case ChoiceROIVAction:
		return "ROIV-ACTION"
	case ChoiceROIVConfirmedAction:
		return "ROIV-CONFIRMED-ACTION"
	case ChoiceRORSConfirmedEventReport:
		return "RORS-CONFIRMED-EVENT-REPORT"
	case ChoiceRORSGet:
		return "RORS-GET"
	case ChoiceRORSConfirmedSet:
		return "RORS-CONFIRMED-SET"
	case ChoiceRORSConfirmedAction:
		return "RORS-CONFIRMED-ACTION"
	case ChoiceROER:
		return "ROER"
	case ChoiceRORJ:
		return "RORJ"
	default:
		return fmt.Sprintf("MessageChoice(0x%04x)", uint16(c))
	}
}

// Message is implemented by every Data-APDU message body.
type Message interface {
	Choice() MessageChoice
	writeBody(*mder.Writer)
	fmt.Stringer
}

// DataAPDU pairs an invoke-id with a Message, for invoke/response
// correlation by the service layer.
type DataAPDU struct {
	InvokeID uint16
	Message  Message
}

// Encode serializes d as invoke-id:u16 choice:u16 length:u16 body.
func Encode(d *DataAPDU) ([]byte, error) {
	w := mder.NewWriter()
	w.WriteU16(d.InvokeID)
	w.WriteU16(uint16(d.Message.Choice()))
	lenPos := w.ReserveU16()
	bodyStart := len(w.Bytes())
	d.Message.writeBody(w)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("dataapdu: encode %v: %w", d.Message.Choice(), err)
	}
	w.CommitU16(lenPos, uint16(len(w.Bytes())-bodyStart))
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeError reports a failure to parse a Data-APDU. The Context logs it
// and drops the PRST without replying or changing FSM state.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("dataapdu: decode: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses a single Data-APDU from buf.
func Decode(buf []byte) (*DataAPDU, error) {
	r := mder.NewReader(buf)
	invokeID := r.ReadU16()
	choice := MessageChoice(r.ReadU16())
	length := int(r.ReadU16())
	if err := r.Err(); err != nil {
		return nil, &DecodeError{err}
	}
	if r.Len() < length {
		return nil, &DecodeError{fmt.Errorf("declared length %d exceeds available %d", length, r.Len())}
	}
	body := mder.NewReader(r.ReadBytes(length))
	var msg Message
	switch choice {
	case ChoiceROIVEventReport, ChoiceROIVConfirmedEventReport:
		msg = decodeEventReportArgs(choice, body)
	case ChoiceRORSConfirmedEventReport:
		msg = decodeEventReportResult(body)
	case ChoiceROIVGet:
		msg = decodeGetArgs(body)
	case ChoiceRORSGet:
		msg = decodeGetResult(body)
	case ChoiceROIVSet, ChoiceROIVConfirmedSet:
		msg = decodeSetArgs(choice, body)
	case ChoiceRORSConfirmedSet:
		msg = decodeSetResult(body)
	case ChoiceROIVAction, ChoiceROIVConfirmedAction:
		msg = decodeActionArgs(choice, body)
	case ChoiceRORSConfirmedAction:
		msg = decodeActionResult(body)
	case ChoiceROER:
		msg = decodeErrorResult(body)
	case ChoiceRORJ:
		msg = decodeRejectResult(body)
	default:
		return nil, &DecodeError{fmt.Errorf("unknown message choice 0x%04x", uint16(choice))}
	}
	if err := body.Err(); err != nil {
		return nil, &DecodeError{err}
	}
	return &DataAPDU{InvokeID: invokeID, Message: msg}, nil
}

func (d *DataAPDU) String() string {
	return fmt.Sprintf("DataAPDU{invoke-id:%d %v}", d.InvokeID, d.Message)
}

// Attribute is a generic (id, value) TLV pair. The dim package owns the
// interpretation of Value for a given ID; this layer only moves bytes.
type Attribute struct {
	ID    uint16
	Value []byte
}

func writeAttributeList(w *mder.Writer, attrs []Attribute) {
	w.WriteU16(uint16(len(attrs)))
	for _, a := range attrs {
		w.WriteU16(a.ID)
		w.WriteU16(uint16(len(a.Value)))
		w.WriteBytes(a.Value)
	}
}

func readAttributeList(r *mder.Reader) []Attribute {
	n := int(r.ReadU16())
	attrs := make([]Attribute, 0, n)
	for i := 0; i < n; i++ {
		id := r.ReadU16()
		vlen := int(r.ReadU16())
		attrs = append(attrs, Attribute{ID: id, Value: r.ReadBytes(vlen)})
	}
	return attrs
}

func writeU16List(w *mder.Writer, vals []uint16) {
	w.WriteU16(uint16(len(vals)))
	for _, v := range vals {
		w.WriteU16(v)
	}
}

func readU16List(r *mder.Reader) []uint16 {
	n := int(r.ReadU16())
	vals := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		vals = append(vals, r.ReadU16())
	}
	return vals
}

// EventReportArgs is the body of ROIV-EVENT-REPORT and
// ROIV-CONFIRMED-EVENT-REPORT: an MDS or object handle reports EventType
// at RelativeTime, carrying opaque EventInfo (a scan report, a
// ConfigReport, a segment-data-result, and so on, per EventType).
type EventReportArgs struct {
	Confirmed    bool
	ObjHandle    uint16
	EventType    uint16
	RelativeTime uint32
	EventInfo    []byte
}

func (e *EventReportArgs) Choice() MessageChoice {
	if e.Confirmed {
		return ChoiceROIVConfirmedEventReport
	}
	return ChoiceROIVEventReport
}

func (e *EventReportArgs) writeBody(w *mder.Writer) {
	w.WriteU16(e.ObjHandle)
	w.WriteU16(e.EventType)
	w.WriteU32(e.RelativeTime)
	w.WriteU16(uint16(len(e.EventInfo)))
	w.WriteBytes(e.EventInfo)
}

func decodeEventReportArgs(choice MessageChoice, r *mder.Reader) *EventReportArgs {
	e := &EventReportArgs{Confirmed: choice == ChoiceROIVConfirmedEventReport}
	e.ObjHandle = r.ReadU16()
	e.EventType = r.ReadU16()
	e.RelativeTime = r.ReadU32()
	n := int(r.ReadU16())
	e.EventInfo = r.ReadBytes(n)
	return e
}

func (e *EventReportArgs) String() string {
	return fmt.Sprintf("EventReportArgs{obj:0x%04x type:0x%04x confirmed:%v %d bytes}",
		e.ObjHandle, e.EventType, e.Confirmed, len(e.EventInfo))
}

// EventReportResult confirms an EventReportArgs.
type EventReportResult struct {
	ObjHandle      uint16
	CurrentTime    uint32
	EventType      uint16
	EventReplyInfo []byte
}

func (e *EventReportResult) Choice() MessageChoice { return ChoiceRORSConfirmedEventReport }

func (e *EventReportResult) writeBody(w *mder.Writer) {
	w.WriteU16(e.ObjHandle)
	w.WriteU32(e.CurrentTime)
	w.WriteU16(e.EventType)
	w.WriteU16(uint16(len(e.EventReplyInfo)))
	w.WriteBytes(e.EventReplyInfo)
}

func decodeEventReportResult(r *mder.Reader) *EventReportResult {
	e := &EventReportResult{}
	e.ObjHandle = r.ReadU16()
	e.CurrentTime = r.ReadU32()
	e.EventType = r.ReadU16()
	n := int(r.ReadU16())
	e.EventReplyInfo = r.ReadBytes(n)
	return e
}

func (e *EventReportResult) String() string {
	return fmt.Sprintf("EventReportResult{obj:0x%04x type:0x%04x}", e.ObjHandle, e.EventType)
}

// GetArgs requests a set of attributes (or all, if AttributeIDList is
// empty) from ObjHandle.
type GetArgs struct {
	ObjHandle       uint16
	AttributeIDList []uint16
}

func (g *GetArgs) Choice() MessageChoice { return ChoiceROIVGet }

func (g *GetArgs) writeBody(w *mder.Writer) {
	w.WriteU16(g.ObjHandle)
	writeU16List(w, g.AttributeIDList)
}

func decodeGetArgs(r *mder.Reader) *GetArgs {
	g := &GetArgs{}
	g.ObjHandle = r.ReadU16()
	g.AttributeIDList = readU16List(r)
	return g
}

func (g *GetArgs) String() string {
	return fmt.Sprintf("GetArgs{obj:0x%04x attrs:%v}", g.ObjHandle, g.AttributeIDList)
}

// GetResult answers a GetArgs with the resolved attribute values.
type GetResult struct {
	ObjHandle     uint16
	AttributeList []Attribute
}

func (g *GetResult) Choice() MessageChoice { return ChoiceRORSGet }

func (g *GetResult) writeBody(w *mder.Writer) {
	w.WriteU16(g.ObjHandle)
	writeAttributeList(w, g.AttributeList)
}

func decodeGetResult(r *mder.Reader) *GetResult {
	g := &GetResult{}
	g.ObjHandle = r.ReadU16()
	g.AttributeList = readAttributeList(r)
	return g
}

func (g *GetResult) String() string {
	return fmt.Sprintf("GetResult{obj:0x%04x %d attrs}", g.ObjHandle, len(g.AttributeList))
}

// SetArgs writes AttributeList onto ObjHandle. Only the confirmed form
// (ChoiceROIVConfirmedSet) is used by this Manager; the unconfirmed form
// is decoded for completeness but never emitted.
type SetArgs struct {
	Confirmed     bool
	ObjHandle     uint16
	AttributeList []Attribute
}

func (s *SetArgs) Choice() MessageChoice {
	if s.Confirmed {
		return ChoiceROIVConfirmedSet
	}
	return ChoiceROIVSet
}

func (s *SetArgs) writeBody(w *mder.Writer) {
	w.WriteU16(s.ObjHandle)
	writeAttributeList(w, s.AttributeList)
}

func decodeSetArgs(choice MessageChoice, r *mder.Reader) *SetArgs {
	s := &SetArgs{Confirmed: choice == ChoiceROIVConfirmedSet}
	s.ObjHandle = r.ReadU16()
	s.AttributeList = readAttributeList(r)
	return s
}

func (s *SetArgs) String() string {
	return fmt.Sprintf("SetArgs{obj:0x%04x %d attrs}", s.ObjHandle, len(s.AttributeList))
}

// SetResult confirms a SetArgs, echoing the attribute values actually
// applied.
type SetResult struct {
	ObjHandle     uint16
	AttributeList []Attribute
}

func (s *SetResult) Choice() MessageChoice { return ChoiceRORSConfirmedSet }

func (s *SetResult) writeBody(w *mder.Writer) {
	w.WriteU16(s.ObjHandle)
	writeAttributeList(w, s.AttributeList)
}

func decodeSetResult(r *mder.Reader) *SetResult {
	s := &SetResult{}
	s.ObjHandle = r.ReadU16()
	s.AttributeList = readAttributeList(r)
	return s
}

func (s *SetResult) String() string {
	return fmt.Sprintf("SetResult{obj:0x%04x %d attrs}", s.ObjHandle, len(s.AttributeList))
}

// ActionArgs invokes ActionType on ObjHandle with opaque ActionInfo (for
// example PM-Store GET-SEGMENT-INFO or CLEAR-SEGMENTS).
type ActionArgs struct {
	Confirmed  bool
	ObjHandle  uint16
	ActionType uint16
	ActionInfo []byte
}

func (a *ActionArgs) Choice() MessageChoice {
	if a.Confirmed {
		return ChoiceROIVConfirmedAction
	}
	return ChoiceROIVAction
}

func (a *ActionArgs) writeBody(w *mder.Writer) {
	w.WriteU16(a.ObjHandle)
	w.WriteU16(a.ActionType)
	w.WriteU16(uint16(len(a.ActionInfo)))
	w.WriteBytes(a.ActionInfo)
}

func decodeActionArgs(choice MessageChoice, r *mder.Reader) *ActionArgs {
	a := &ActionArgs{Confirmed: choice == ChoiceROIVConfirmedAction}
	a.ObjHandle = r.ReadU16()
	a.ActionType = r.ReadU16()
	n := int(r.ReadU16())
	a.ActionInfo = r.ReadBytes(n)
	return a
}

func (a *ActionArgs) String() string {
	return fmt.Sprintf("ActionArgs{obj:0x%04x type:0x%04x}", a.ObjHandle, a.ActionType)
}

// ActionResult confirms an ActionArgs.
type ActionResult struct {
	ObjHandle  uint16
	ActionType uint16
	ActionInfo []byte
}

func (a *ActionResult) Choice() MessageChoice { return ChoiceRORSConfirmedAction }

func (a *ActionResult) writeBody(w *mder.Writer) {
	w.WriteU16(a.ObjHandle)
	w.WriteU16(a.ActionType)
	w.WriteU16(uint16(len(a.ActionInfo)))
	w.WriteBytes(a.ActionInfo)
}

func decodeActionResult(r *mder.Reader) *ActionResult {
	a := &ActionResult{}
	a.ObjHandle = r.ReadU16()
	a.ActionType = r.ReadU16()
	n := int(r.ReadU16())
	a.ActionInfo = r.ReadBytes(n)
	return a
}

func (a *ActionResult) String() string {
	return fmt.Sprintf("ActionResult{obj:0x%04x type:0x%04x}", a.ObjHandle, a.ActionType)
}

// ErrorCode enumerates ROER error codes the service layer can raise.
type ErrorCode uint16

const (
	ErrorCodeNoSuchObjectInstance ErrorCode = 1
	ErrorCodeNoSuchAttribute      ErrorCode = 4
	ErrorCodeInvalidObjectInstance ErrorCode = 8
	ErrorCodeInvalidPDU           ErrorCode = 16
)

// ErrorResult is a ROER: the peer's request could not be carried out.
type ErrorResult struct {
	ErrorCode ErrorCode
	ErrorInfo []byte
}

func (e *ErrorResult) Choice() MessageChoice { return ChoiceROER }

func (e *ErrorResult) writeBody(w *mder.Writer) {
	w.WriteU16(uint16(e.ErrorCode))
	w.WriteU16(uint16(len(e.ErrorInfo)))
	w.WriteBytes(e.ErrorInfo)
}

func decodeErrorResult(r *mder.Reader) *ErrorResult {
	e := &ErrorResult{}
	e.ErrorCode = ErrorCode(r.ReadU16())
	n := int(r.ReadU16())
	e.ErrorInfo = r.ReadBytes(n)
	return e
}

func (e *ErrorResult) String() string { return fmt.Sprintf("ErrorResult{code:%d}", e.ErrorCode) }

// RejectProblem enumerates RORJ problem types.
type RejectProblem uint16

const (
	RejectUnrecognizedAPDU RejectProblem = 0
	RejectUnrecognizedInvokeID RejectProblem = 2
)

// RejectResult is a RORJ: the invoke-id or the message itself was
// unrecognizable, so the original choice could not even be classified.
type RejectResult struct {
	Problem      RejectProblem
	ProblemValue uint16
}

func (j *RejectResult) Choice() MessageChoice { return ChoiceRORJ }

func (j *RejectResult) writeBody(w *mder.Writer) {
	w.WriteU16(uint16(j.Problem))
	w.WriteU16(j.ProblemValue)
}

func decodeRejectResult(r *mder.Reader) *RejectResult {
	j := &RejectResult{}
	j.Problem = RejectProblem(r.ReadU16())
	j.ProblemValue = r.ReadU16()
	return j
}

func (j *RejectResult) String() string {
	return fmt.Sprintf("RejectResult{problem:%d value:%d}", j.Problem, j.ProblemValue)
}
