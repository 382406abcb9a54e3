package dim

import (
	"fmt"

	"github.com/signove/phd-manager/dataapdu"
	"github.com/signove/phd-manager/mder"
)

// EncodeConfigReport serializes report using the MDER codec, for
// transport inside an EventReportArgs.EventInfo (MDC_NOTI_CONFIG) or an
// extended-config store record.
func EncodeConfigReport(report *ConfigReport) []byte {
	w := mder.NewWriter()
	w.WriteU16(uint16(len(report.Objects)))
	for _, obj := range report.Objects {
		w.WriteU8(uint8(obj.Class))
		w.WriteU16(obj.Handle)
		w.WriteU16(uint16(len(obj.Attribute)))
		for _, a := range obj.Attribute {
			w.WriteU16(a.ID)
			w.WriteU16(uint16(len(a.Value)))
			w.WriteBytes(a.Value)
		}
	}
	return w.Bytes()
}

// DecodeConfigReport is EncodeConfigReport's inverse.
func DecodeConfigReport(buf []byte) (*ConfigReport, error) {
	r := mder.NewReader(buf)
	objCount := int(r.ReadU16())
	report := &ConfigReport{}
	for i := 0; i < objCount; i++ {
		class := ObjClass(r.ReadU8())
		handle := r.ReadU16()
		attrCount := int(r.ReadU16())
		co := ConfigObject{Class: class, Handle: handle}
		for j := 0; j < attrCount; j++ {
			id := r.ReadU16()
			length := int(r.ReadU16())
			co.Attribute = append(co.Attribute, dataapdu.Attribute{ID: id, Value: r.ReadBytes(length)})
		}
		report.Objects = append(report.Objects, co)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("dim: decode config report: %w", err)
	}
	return report, nil
}
