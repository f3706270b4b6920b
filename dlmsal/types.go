package dlmsal

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

type GetRequestTag byte

const (
	TagGetRequestNormal   GetRequestTag = 0x1
	TagGetRequestNext     GetRequestTag = 0x2
	TagGetRequestWithList GetRequestTag = 0x3
)

type GetResponseTag byte

const (
	TagGetResponseNormal        GetResponseTag = 0x1
	TagGetResponseWithDataBlock GetResponseTag = 0x2
	TagGetResponseWithList      GetResponseTag = 0x3
)

type SetRequestTag byte

const (
	TagSetRequestNormal                    SetRequestTag = 0x1
	TagSetRequestWithFirstDataBlock        SetRequestTag = 0x2
	TagSetRequestWithDataBlock             SetRequestTag = 0x3
	TagSetRequestWithList                  SetRequestTag = 0x4
	TagSetRequestWithListAndFirstDataBlock SetRequestTag = 0x5
)

type ActionRequestTag byte

const (
	TagActionRequestNormal                 ActionRequestTag = 0x1
	TagActionRequestNextPBlock             ActionRequestTag = 0x2
	TagActionRequestWithList               ActionRequestTag = 0x3
	TagActionRequestWithFirstPBlock        ActionRequestTag = 0x4
	TagActionRequestWithListAndFirstPBlock ActionRequestTag = 0x5
	TagActionRequestWithPBlock             ActionRequestTag = 0x6
)

type ActionResponseTag byte

const (
	TagActionResponseNormal     ActionResponseTag = 0x1
	TagActionResponseWithPBlock ActionResponseTag = 0x2
	TagActionResponseWithList   ActionResponseTag = 0x3
	TagActionResponseNextPBlock ActionResponseTag = 0x4
)

// sentinel values used instead of "is set" flags
const (
	DateTimeUnspecified      byte   = 0xFF
	DateTimeYearUnspecified  uint16 = 0xFFFF
	DateTimeDSTBegin         byte   = 0xFE // month field
	DateTimeDSTEnd           byte   = 0xFD // month field
	DateTimeLastDayOfMonth   byte   = 0xFE // day field
	DateTimeSecondLastDay    byte   = 0xFD // day field
	DateTimeInvalidDeviation int16  = -32768

	ClockStatusInvalid        byte = 0x01
	ClockStatusDoubtful       byte = 0x02
	ClockStatusDifferentBase  byte = 0x04
	ClockStatusInvalidStatus  byte = 0x08
	ClockStatusDaylightSaving byte = 0x80
	ClockStatusUnspecified    byte = 0xFF
)

type DlmsDate struct {
	Year      uint16
	Month     byte
	Day       byte
	DayOfWeek byte
}

type DlmsTime struct {
	Hour       byte
	Minute     byte
	Second     byte
	Hundredths byte
}

type DlmsDateTime struct {
	Date      DlmsDate
	Time      DlmsTime
	Deviation int16
	Status    byte
}

// UnspecifiedDate has every field unspecified.
func UnspecifiedDate() DlmsDate {
	return DlmsDate{Year: DateTimeYearUnspecified, Month: DateTimeUnspecified, Day: DateTimeUnspecified, DayOfWeek: DateTimeUnspecified}
}

func UnspecifiedTime() DlmsTime {
	return DlmsTime{Hour: DateTimeUnspecified, Minute: DateTimeUnspecified, Second: DateTimeUnspecified, Hundredths: DateTimeUnspecified}
}

func (d DlmsDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d DlmsDate) IsDSTBegin() bool { return d.Month == DateTimeDSTBegin }
func (d DlmsDate) IsDSTEnd() bool   { return d.Month == DateTimeDSTEnd }

func (t DlmsTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d.%02d", t.Hour, t.Minute, t.Second, t.Hundredths)
}

func (t DlmsDateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%02d UTC%+03d Status: %02x",
		t.Date.Year, t.Date.Month, t.Date.Day,
		t.Time.Hour, t.Time.Minute, t.Time.Second, t.Time.Hundredths, t.Deviation, t.Status)
}

func (t DlmsDateTime) ToTime() (tt time.Time, err error) {
	if t.Date.Year == DateTimeYearUnspecified || t.Date.Month > 12 || t.Date.Day > 31 || t.Time.Hour == DateTimeUnspecified || t.Time.Minute == DateTimeUnspecified {
		return tt, fmt.Errorf("invalid date or time")
	}
	ns := 0
	if t.Time.Hundredths != DateTimeUnspecified {
		ns = int(t.Time.Hundredths) * 10000000
	}
	sec := 0
	if t.Time.Second != DateTimeUnspecified {
		sec = int(t.Time.Second)
	}
	if t.Deviation == DateTimeInvalidDeviation {
		return time.Date(int(t.Date.Year), time.Month(t.Date.Month), int(t.Date.Day), int(t.Time.Hour), int(t.Time.Minute), sec, ns, time.Local), nil
	}
	tt = time.Date(int(t.Date.Year), time.Month(t.Date.Month), int(t.Date.Day), int(t.Time.Hour), int(t.Time.Minute), sec, ns, time.FixedZone("UTC", int(t.Deviation)*60))
	return
}

// NewDlmsDateTimeFromTime sets daylight saving status bit when src is in dst
// for its own location.
func NewDlmsDateTimeFromTime(src time.Time) DlmsDateTime {
	wd := byte(src.Weekday())
	if wd == 0 {
		wd = 7
	}
	_, off := src.Zone()
	var status byte
	if src.IsDST() {
		status |= ClockStatusDaylightSaving
	}
	return DlmsDateTime{
		Date:      DlmsDate{Year: uint16(src.Year()), Month: byte(src.Month()), Day: byte(src.Day()), DayOfWeek: wd},
		Time:      DlmsTime{Hour: byte(src.Hour()), Minute: byte(src.Minute()), Second: byte(src.Second()), Hundredths: byte(src.Nanosecond() / 10000000)},
		Deviation: int16(off / 60),
		Status:    status,
	}
}

func NewDlmsDateTimeFromSlice(src []byte) (val DlmsDateTime, err error) {
	if len(src) < 12 {
		err = fmt.Errorf("invalid length")
		return
	}
	return DlmsDateTime{
		Date:      DlmsDate{Year: uint16(src[0])<<8 | uint16(src[1]), Month: src[2], Day: src[3], DayOfWeek: src[4]},
		Time:      DlmsTime{Hour: src[5], Minute: src[6], Second: src[7], Hundredths: src[8]},
		Deviation: int16(src[9])<<8 | int16(src[10]),
		Status:    src[11],
	}, nil
}

type DlmsObis struct {
	A byte
	B byte
	C byte
	D byte
	E byte
	F byte
}

func (o DlmsObis) String() string {
	return fmt.Sprintf("%d-%d:%d.%d.%d.%d", o.A, o.B, o.C, o.D, o.E, o.F)
}

func (o DlmsObis) Bytes() []byte {
	return []byte{o.A, o.B, o.C, o.D, o.E, o.F}
}

// Value returns obis as octet string value.
func (o DlmsObis) Value() OctetString {
	return OctetString(o.Bytes())
}

func NewDlmsObisFromSlice(src []byte) (ob DlmsObis, err error) {
	if len(src) != 6 {
		err = fmt.Errorf("invalid obis length %d", len(src))
		return
	}
	return DlmsObis{A: src[0], B: src[1], C: src[2], D: src[3], E: src[4], F: src[5]}, nil
}

var obisre = regexp.MustCompile(`^((\d+)-(\d+):)?(\d+)\.(\d+)(\.(\d+)(\.(\d+))?)?$`)

func NewDlmsObisFromString(src string) (ob DlmsObis, err error) {
	m := obisre.FindStringSubmatch(src)
	if m == nil {
		err = fmt.Errorf("invalid obis format %q", src)
		return
	}
	parts := []string{m[2], m[3], m[4], m[5], m[7], m[9]}
	defaults := []int{0, 0, 0, 0, 255, 255}
	var vals [6]byte
	for i, p := range parts {
		v := defaults[i]
		if p != "" {
			v, err = strconv.Atoi(p)
			if err != nil {
				return
			}
		}
		if v > 255 {
			err = fmt.Errorf("invalid obis value %d", v)
			return
		}
		vals[i] = byte(v)
	}
	return DlmsObis{A: vals[0], B: vals[1], C: vals[2], D: vals[3], E: vals[4], F: vals[5]}, nil
}
