package dim

// Attribute OIDs (MDC_ATTR_*), restricted to the set this Manager
// interprets. Anything else received in a ConfigReport or event report is
// kept verbatim in an object's sparse attribute map rather than dropped,
// so a Get-all round-trips attributes this Manager doesn't understand.
const (
	AttrIDHandle           uint16 = 0x0A00
	AttrType               uint16 = 0x0A02
	AttrIDLabelString      uint16 = 0x0A4D
	AttrMetricSpecSmall    uint16 = 0x0A4A
	AttrUnitCode           uint16 = 0x09C6
	AttrNuValObsSimp       uint16 = 0x0A56
	AttrNuValObsBasic      uint16 = 0x0A55
	AttrNuCmpdValObsBasic  uint16 = 0x0A5B
	AttrAttributeValMap    uint16 = 0x0A4B
	AttrTimeStampAbs       uint16 = 0x0A1C
	AttrMsmtStat           uint16 = 0x0A4C
	AttrOpStat             uint16 = 0x0B0D
	AttrScanHandleList     uint16 = 0x0A1E
	AttrSysID              uint16 = 0x0984
	AttrSysTypeSpecList    uint16 = 0x0A14
	AttrDevConfigID        uint16 = 0x0987
	AttrTimeAbs            uint16 = 0x0A4F
	AttrNumSeg             uint16 = 0x0A4E
	AttrInstNumber         uint16 = 0x0A4C // note: shares numeric space with MsmtStat in different object classes, disambiguated by ObjClass
	AttrSegmentInfoList    uint16 = 0x0A50
)

// MetricSpec bits relevant to Numeric decode, carried in
// MDC_ATTR_METRIC_SPEC_SMALL.
const (
	MetricSpecSimple        uint16 = 0x0001
	MetricSpecBasic         uint16 = 0x0002
	MetricSpecCompoundBasic uint16 = 0x0004
)

// Event types carried by MDS-Dynamic-Data-Update reports (MDC_NOTI_*).
const (
	NotiConfig             uint16 = 0x0D1C
	NotiScanReportFixed    uint16 = 0x0D1E
	NotiScanReportVar      uint16 = 0x0D21
	NotiScanReportGrouped  uint16 = 0x0D25
	NotiSegmentData        uint16 = 0x0D2D
)
