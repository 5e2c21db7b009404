// internal/driver/station/constants.go
// Protocol constants for SportIdent stations. Much of this is not
// documented by SportIdent; values were worked out by the community.
package station

import "fmt"

// CRC parameters.
const (
	crcPolynom = 0x8005
	crcBitF    = 0x8000
)

// Protocol characters.
const (
	charSTX    = 0x02 // start of transmission
	charETX    = 0x03 // end of transmission
	charACK    = 0x06 // sent to a readout station, beeps until the card is taken out
	charNAK    = 0x15 // negative ACK
	charDLE    = 0x10 // delimiter, only seen in legacy autosend data
	charWakeup = 0xFF // sent first to wake a station up
)

// Basic (legacy) protocol commands. Kept for reference; the driver only
// speaks the extended protocol on the wire.
const (
	bcSetCardNo   = 0x30
	bcGetSI5      = 0x31
	bcTransRec    = 0x33 // autosend timestamp in very old stations (BSF3)
	bcSI5Write    = 0x43
	bcSI5Det      = 0x46 // SI-card 5 inserted (46 49) or removed (46 4F)
	bcTransRec2   = 0x53 // autosend timestamp (online control)
	bcTransTime   = 0x54 // autosend timestamp (lightbeam trigger)
	bcGetSI6      = 0x61
	bcSI6Det      = 0x66
	bcSetMS       = 0x70
	bcGetMS       = 0x71
	bcSetSysVal   = 0x72
	bcGetSysVal   = 0x73
	bcGetBackup   = 0x74 // response carries 0xC4
	bcEraseBackup = 0x75
	bcSetTime     = 0x76
	bcGetTime     = 0x77
	bcOff         = 0x78
	bcReset       = 0x79
	bcGetBackup2  = 0x7A // extended start and finish only, response carries 0xCA
	bcSetBaud     = 0x7E // 0x00=4800 baud, 0x01=38400 baud
)

// Extended protocol commands.
const (
	cmdGetBackup   = 0x81 // three address bytes plus one count byte (count <= 0x80)
	cmdSetSysVal   = 0x82
	cmdGetSysVal   = 0x83
	cmdSRRWrite    = 0xA2 // ShortRangeRadio - SysData write
	cmdSRRRead     = 0xA3 // ShortRangeRadio - SysData read
	cmdSRRQuery    = 0xA6 // ShortRangeRadio - network device query
	cmdSRRPing     = 0xA7 // ShortRangeRadio - heartbeat, every 50 seconds
	cmdSRRAdhoc    = 0xA8 // ShortRangeRadio - ad-hoc message, e.g. from SI-ActiveCard
	cmdGetSI5      = 0xB1
	cmdTransRec    = 0xD3 // autosend timestamp (online control)
	cmdGetSI6      = 0xE1
	cmdSI5Det      = 0xE5
	cmdSI6Det      = 0xE6
	cmdSIRem       = 0xE7
	cmdSI9Det      = 0xE8 // SI-card 8/9/10/11/p/t inserted
	cmdGetSI9      = 0xEF
	cmdSetMS       = 0xF0
	cmdGetMS       = 0xF1
	cmdEraseBackup = 0xF5
	cmdSetTime     = 0xF6
	cmdGetTime     = 0xF7
	cmdOff         = 0xF8
	cmdBeep        = 0xF9 // 02 F9 01 (number of beeps) (CRC16) 03
	cmdSetBaud     = 0xFE // 0x00=4800 baud, 0x01=38400 baud
)

// Protocol parameters.
const (
	paramMSDirect   = 0x4D // "M"aster (direct)
	paramMSIndirect = 0x53 // "S"lave (remote)
	paramSI6CB      = 0x08 // card blocks, reads all 8 blocks
)

// Offsets in the system-value block, accessed with cmdGetSysVal and
// cmdSetSysVal. The station returns a filler byte before the block, so
// consumers index payload[1+offset].
const (
	sysSerialNo    = 0x00 // 4 bytes, BSx7 and later
	sysSRRConfig   = 0x04 // 1 byte, SRR-dongle configuration bit mask
	sysFirmware    = 0x05 // 3 bytes, ASCII (e.g. "656")
	sysBuildDate   = 0x08 // 3 bytes, YYMMDD
	sysModelID     = 0x0B // 2 bytes
	sysMemSize     = 0x0D // 1 byte, kB
	sysBatDate     = 0x15 // 3 bytes, YYMMDD
	sysBatCap      = 0x19 // 2 bytes, multiples of 16/225 mAh
	sysBackupPtrHi = 0x1C // 2 bytes, high bytes of backup memory pointer
	sysBackupPtrLo = 0x21 // 2 bytes, low bytes of backup pointer
	sysSI6CB       = 0x33 // 1 byte, which SI6 blocks to read: 0x00/0xC1=blocks 0,6,7; 0x08/0xFF=all 8
	sysSRRChannel  = 0x34 // 1 byte, 0x00="red", 0x01="blue"
	sysUsedBatCap  = 0x35 // 3 bytes, multiply by 2.778e-5 for the used fraction of full capacity
	sysMemOverflow = 0x3D // 1 byte, memory overflow if != 0x00
	sysBatVolt     = 0x50 // 2 bytes, multiply by 5/65536 V
	sysProgram     = 0x70 // 1 byte, xx0xxxxxb competition, xx1xxxxxb training
	sysMode        = 0x71 // 1 byte
	sysStationCode = 0x72 // 1 byte, lower bits of station code
	sysFeedback    = 0x73 // 1 byte, bit0 optical, bit2 audible, bits7..6 MSBits of code
	sysProto       = 0x74 // 1 byte, protocol configuration bit mask
	sysWakeupDate  = 0x75 // 3 bytes, YYMMDD
	sysWakeupTime  = 0x78 // 3 bytes, day byte + seconds after midnight/midday
	sysSleepTime   = 0x7B // 3 bytes, day byte + seconds after midnight/midday
	sysActiveTime  = 0x7E // 2 bytes, active time in minutes, max 5759
)

// Protocol configuration byte bits (sysProto).
const (
	protoExtended  = 1 << 0
	protoAutoSend  = 1 << 1
	protoHandshake = 1 << 2 // only valid for card readout
	protoPassword  = 1 << 4 // access with password only
	protoPunchRead = 1 << 7 // read out card after punch
)

// Mode is a station operating mode.
type Mode byte

const (
	ModeSIACSpecial Mode = 0x01 // SI Air+ special register set
	ModeControl     Mode = 0x02
	ModeStart       Mode = 0x03
	ModeFinish      Mode = 0x04
	ModeReadout     Mode = 0x05
	ModeClearOld    Mode = 0x06 // without start-number, not used anymore
	ModeClear       Mode = 0x07 // with start-number = standard
	ModeCheck       Mode = 0x0A
	ModePrintout    Mode = 0x0B // BS7-P printer station
	ModeStartTrig   Mode = 0x0C // BS7-S with external trigger
	ModeFinishTrig  Mode = 0x0D
	ModeBCControl   Mode = 0x12 // SI Air+ / SIAC beacon modes
	ModeBCStart     Mode = 0x13
	ModeBCFinish    Mode = 0x14
	ModeBCReadout   Mode = 0x15
)

var modeNames = map[Mode]string{
	ModeSIACSpecial: "SIAC special",
	ModeControl:     "Control",
	ModeStart:       "Start",
	ModeFinish:      "Finish",
	ModeReadout:     "Readout",
	ModeClearOld:    "Clear old",
	ModeClear:       "Clear",
	ModeCheck:       "Check",
	ModePrintout:    "Printout",
	ModeStartTrig:   "Start trig",
	ModeFinishTrig:  "Finish trig",
	ModeBCControl:   "BC control",
	ModeBCStart:     "BC start",
	ModeBCFinish:    "BC finish",
	ModeBCReadout:   "BC readout",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("0x%02x", byte(m))
}

// supportedModes lists the modes SetOperatingMode accepts.
var supportedModes = map[Mode]bool{
	ModeControl: true,
	ModeStart:   true,
	ModeFinish:  true,
	ModeReadout: true,
	ModeClear:   true,
	ModeCheck:   true,
}

// backupModes lists the modes whose backup memory can be read out.
var backupModes = map[Mode]bool{
	ModeControl:  true,
	ModeStart:    true,
	ModeFinish:   true,
	ModeClearOld: true,
	ModeClear:    true,
	ModeCheck:    true,
}

// ModelName maps a SYSVAL model id to the station model name.
var ModelName = map[uint16]string{
	0x6F21: "SIMSRR1-AP", // ShortRangeRadio AccessPoint (SRR-dongle)
	0x8003: "BSF3",
	0x8004: "BSF4",
	0x8084: "BSM4-RS232",
	0x8086: "BSM6-RS232/USB",
	0x8115: "BSF5",
	0x8117: "BSF7",
	0x8118: "BSF8",
	0x8146: "BSF6",
	0x8187: "BS7-SI-Master",
	0x8188: "BS8-SI-Master",
	0x8197: "BSF7",
	0x8198: "BSF8",
	0x9197: "BSM7-RS232/USB",
	0x9198: "BSM8-USB/SRR",
	0x9199: "unknown",
	0x9597: "BS7-S", // Sprinter
	0x9D9A: "BS11-BL",
	0xB197: "BS7-P", // Printer
	0xB198: "BS8-P",
	0xB897: "BS7-GSM",
	0xCD9B: "BS11-BS",
}

// Backup memory record length in extended protocol; legacy records are 6.
const (
	recLenExtended = 8
	recLenLegacy   = 6
)

// "No time recorded" sentinel in card and backup records.
const timeReset = 0xEEEE

// Autosend punch record offsets (cmdTransRec data).
const (
	transCN     = 0 // 4 bytes, card number
	transTime   = 5 // 2 bytes, punch time
	transOffset = 8 // 3 bytes, backup memory offset of this record
)

// Punch record offsets for gap recovery reads from backup memory.
const (
	backupCN   = 3 // 3 bytes, card number
	backupTime = 8 // 2 bytes, punch time
)

// Offsets in backup memory readout, extended protocol. Each response
// carries a two-byte header before the first record.
const (
	buxFirst = 2
	buxSize  = 8
	buxCN    = 0 // 3 bytes, MSB to LSB
	buxYM    = 3 // bits 7..2: year since 2000, bits 1..0: upper bits of month
	buxMDAP  = 4 // bits 7..6: lower bits of month, bits 5..1: day, bit 0: AM/PM
	buxSecs  = 5 // 2 bytes, seconds since midnight or midday
	buxMS    = 7 // 1 byte, divide by 256 for fractions of a second
)

// Offsets in backup memory readout, legacy protocol.
const (
	bulFirst = 2
	bulSize  = 6
	bulCN    = 0 // 2 bytes, lower part of card number
	bulSecs  = 2 // 2 bytes, seconds since midnight/midday
	bulPTD   = 4
	bulCNS   = 5 // card number series byte
)
