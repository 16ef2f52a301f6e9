package packet

import (
	"fmt"
	"sort"
	"sync"
)

// Tag identifies a payload shape. Values 0-255 belong to Header A, values
// from 256 up to Header B. A tag is never reused for a different shape.
type Tag uint16

func (t Tag) String() string {
	if s, ok := Lookup(t); ok {
		return fmt.Sprintf("%s(%#x)", s.Name, uint16(t))
	}
	return fmt.Sprintf("%#x", uint16(t))
}

// Header A kinds.
const (
	TagAsterixCat008     Tag = 8
	TagAsterixCat010     Tag = 10
	TagAsterixCat019     Tag = 19
	TagAsterixCat020     Tag = 20
	TagAsterixCat021     Tag = 21
	TagAsterixCat034     Tag = 34
	TagAsterixCat048     Tag = 48
	TagAsterixCat062     Tag = 62
	TagNMEA183           Tag = 183
	TagAsterixCat240     Tag = 240
	TagAsterixCat240SPF1 Tag = 241
	TagAsterixCat247     Tag = 247
)

// Header B kinds, grouped by family. New kinds go at the next free value of
// their family.
const (
	// Radar and control.
	TagRadarConfig   Tag = 0x101
	TagRadarReturn   Tag = 0x102
	TagNextName      Tag = 0x103
	TagWindowConfig  Tag = 0x104
	TagWindowPatches Tag = 0x105
	TagParamList     Tag = 0x106
	TagAck           Tag = 0x107
	TagHeartbeat     Tag = 0x108
	TagPIMData       Tag = 0x109

	// Tracking.
	TagTrackMin      Tag = 0x110
	TagTrackNorm     Tag = 0x111
	TagTrackExt      Tag = 0x112
	TagPlot          Tag = 0x113
	TagRSTPlot       Tag = 0x114
	TagTrackerStatus Tag = 0x115
	TagPlotStatus    Tag = 0x116

	// Screen recording.
	TagSRMaster Tag = 0x120
	TagSRPause  Tag = 0x121
	TagSRFrame  Tag = 0x122

	// Network and serial.
	TagNet     Tag = 0x130
	TagNMEA    Tag = 0x131
	TagSerial  Tag = 0x132
	TagADSB    Tag = 0x133
	TagAIS     Tag = 0x134
	TagHDLCIFF Tag = 0x135

	TagTOC Tag = 0x140

	// Image and sound manager.
	TagImgSndMngrStatus Tag = 0x150
	TagImageChunk       Tag = 0x151
	TagMetadata         Tag = 0x152
	TagAVInfo           Tag = 0x153
	TagAudioChunk       Tag = 0x154
	TagMetadataRaw      Tag = 0x155
	TagAVTrack          Tag = 0x156

	TagSimTargetList Tag = 0x160
	TagLicense       Tag = 0x170
	TagLicenseEnc    Tag = 0x171

	// Alerts.
	TagAlertError    Tag = 0x180
	TagAlertHPXAlarm Tag = 0x181
	TagAlertLogic    Tag = 0x182

	TagDropout   Tag = 0x190
	TagAsterix   Tag = 0x1A0
	TagError     Tag = 0x1B0
	TagErrorDesc Tag = 0x1B1

	// Recording and session bookkeeping.
	TagFile         Tag = 0x1C0
	TagConfigFile   Tag = 0x1C1
	TagFlightPlan   Tag = 0x1D0
	TagChanSelect   Tag = 0x1E0
	TagImageFile    Tag = 0x1F0
	TagRecord       Tag = 0x200
	TagChanDBConfig Tag = 0x210
	TagJSON         Tag = 0x220
	TagLink         Tag = 0x230

	// Camera, alarm and miscellaneous.
	TagCameraPos      Tag = 0x240
	TagCameraCommand  Tag = 0x241
	TagAlarm          Tag = 0x250
	TagKAL            Tag = 0x260
	TagChanges        Tag = 0x270
	TagStrobe         Tag = 0x280
	TagProjectHB      Tag = 0x290
	TagExtendedHB     Tag = 0x2A0
	TagMonitorStatus  Tag = 0x2B0
	TagProjectGeneric Tag = 0x300
	TagExtendedHBDep  Tag = 0x310
	TagInfoDB         Tag = 0x320
	TagTEWAStatus     Tag = 0x330
	TagFR24ADSB       Tag = 0x340
	TagDoppler        Tag = 0x350
	TagAreaEvent      Tag = 0x360
	TagNavData        Tag = 0x361
	TagTest           Tag = 0x370
	TagGPSAStatus     Tag = 0x380
)

// Shape describes the payload registered for a tag.
type Shape struct {
	Tag  Tag
	Name string
	// PayloadSize is the fixed payload length, or 0 when it varies.
	PayloadSize int
}

// Header returns the header kind that carries the shape.
func (s Shape) Header() Kind {
	if s.Tag <= 0xFF {
		return KindA
	}
	return KindB
}

var registry = struct {
	sync.RWMutex
	shapes map[Tag]Shape
}{shapes: make(map[Tag]Shape)}

// Register appends a shape to the process-wide registry. It is meant for
// start-up: registering a tag twice with a different shape panics, registering
// the identical shape again is a no-op.
func Register(s Shape) {
	if s.Name == "" {
		panic(fmt.Sprintf("packet: shape for tag %#x has no name", uint16(s.Tag)))
	}
	registry.Lock()
	defer registry.Unlock()
	if prev, ok := registry.shapes[s.Tag]; ok {
		if prev != s {
			panic(fmt.Sprintf("packet: tag %#x already registered as %q", uint16(s.Tag), prev.Name))
		}
		return
	}
	registry.shapes[s.Tag] = s
}

// Lookup returns the registered shape for tag.
func Lookup(tag Tag) (Shape, bool) {
	registry.RLock()
	defer registry.RUnlock()
	s, ok := registry.shapes[tag]
	return s, ok
}

// Known reports whether tag is registered for the given header kind.
func Known(kind Kind, tag Tag) bool {
	s, ok := Lookup(tag)
	return ok && s.Header() == kind
}

// Shapes lists the registry in tag order.
func Shapes() []Shape {
	registry.RLock()
	out := make([]Shape, 0, len(registry.shapes))
	for _, s := range registry.shapes {
		out = append(out, s)
	}
	registry.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

const (
	trackMinPayload  = 56
	trackNormPayload = 112
)

func init() {
	for _, s := range []Shape{
		{Tag: TagAsterixCat008, Name: "ASTERIX_CAT008"},
		{Tag: TagAsterixCat010, Name: "ASTERIX_CAT010"},
		{Tag: TagAsterixCat019, Name: "ASTERIX_CAT019"},
		{Tag: TagAsterixCat020, Name: "ASTERIX_CAT020"},
		{Tag: TagAsterixCat021, Name: "ASTERIX_CAT021"},
		{Tag: TagAsterixCat034, Name: "ASTERIX_CAT034"},
		{Tag: TagAsterixCat048, Name: "ASTERIX_CAT048"},
		{Tag: TagAsterixCat062, Name: "ASTERIX_CAT062"},
		{Tag: TagNMEA183, Name: "NMEA_183"},
		{Tag: TagAsterixCat240, Name: "ASTERIX_CAT240"},
		{Tag: TagAsterixCat240SPF1, Name: "ASTERIX_CAT240_SPF1"},
		{Tag: TagAsterixCat247, Name: "ASTERIX_CAT247"},

		{Tag: TagRadarConfig, Name: "RADAR_CONFIG"},
		{Tag: TagRadarReturn, Name: "RADAR_RETURN"},
		{Tag: TagNextName, Name: "NEXT_NAME"},
		{Tag: TagWindowConfig, Name: "WINDOW_CONFIG"},
		{Tag: TagWindowPatches, Name: "WINDOW_PATCHES"},
		{Tag: TagParamList, Name: "PARAM_LIST"},
		{Tag: TagAck, Name: "ACK"},
		{Tag: TagHeartbeat, Name: "HEARTBEAT"},
		{Tag: TagPIMData, Name: "PIM_DATA"},
		{Tag: TagTrackMin, Name: "TRACK_MIN", PayloadSize: trackMinPayload},
		{Tag: TagTrackNorm, Name: "TRACK_NORM", PayloadSize: trackNormPayload},
		{Tag: TagTrackExt, Name: "TRACK_EXT"},
		{Tag: TagPlot, Name: "PLOT"},
		{Tag: TagRSTPlot, Name: "RST_PLOT"},
		{Tag: TagTrackerStatus, Name: "TRACKER_STATUS"},
		{Tag: TagPlotStatus, Name: "PLOT_STATUS"},
		{Tag: TagSRMaster, Name: "SR_MBR"},
		{Tag: TagSRPause, Name: "SR_PAUSE"},
		{Tag: TagSRFrame, Name: "SR_FRAME"},
		{Tag: TagNet, Name: "NET"},
		{Tag: TagNMEA, Name: "NMEA"},
		{Tag: TagSerial, Name: "SERIAL"},
		{Tag: TagADSB, Name: "ADSB"},
		{Tag: TagAIS, Name: "AIS"},
		{Tag: TagHDLCIFF, Name: "HDLC_IFF"},
		{Tag: TagTOC, Name: "TOC"},
		{Tag: TagImgSndMngrStatus, Name: "IMG_SND_MNGR_STATUS"},
		{Tag: TagImageChunk, Name: "IMAGE_CHUNK"},
		{Tag: TagMetadata, Name: "METADATA"},
		{Tag: TagAVInfo, Name: "AV_INFO"},
		{Tag: TagAudioChunk, Name: "AUDIO_CHUNK"},
		{Tag: TagMetadataRaw, Name: "METADATA_RAW"},
		{Tag: TagAVTrack, Name: "AV_TRACK"},
		{Tag: TagSimTargetList, Name: "SIM_TARGET_LIST"},
		{Tag: TagLicense, Name: "LICENSE"},
		{Tag: TagLicenseEnc, Name: "LICENSE_ENC"},
		{Tag: TagAlertError, Name: "ALERT_ERROR"},
		{Tag: TagAlertHPXAlarm, Name: "ALERT_HPX_ALARM"},
		{Tag: TagAlertLogic, Name: "ALERT_LOGIC"},
		{Tag: TagDropout, Name: "DROPOUT"},
		{Tag: TagAsterix, Name: "ASTERIX"},
		{Tag: TagError, Name: "ERROR"},
		{Tag: TagErrorDesc, Name: "ERROR_DESC"},
		{Tag: TagFile, Name: "FILE"},
		{Tag: TagConfigFile, Name: "CONFIG_FILE"},
		{Tag: TagFlightPlan, Name: "FLIGHT_PLAN"},
		{Tag: TagChanSelect, Name: "CHAN_SELECT"},
		{Tag: TagImageFile, Name: "IMAGE_FILE"},
		{Tag: TagRecord, Name: "RECORD"},
		{Tag: TagChanDBConfig, Name: "CHAN_DB_CONFIG"},
		{Tag: TagJSON, Name: "JSON"},
		{Tag: TagLink, Name: "LINK"},
		{Tag: TagCameraPos, Name: "CAMERA_POS"},
		{Tag: TagCameraCommand, Name: "CAMERA_COMMAND"},
		{Tag: TagAlarm, Name: "ALARM"},
		{Tag: TagKAL, Name: "KAL"},
		{Tag: TagChanges, Name: "CHANGES"},
		{Tag: TagStrobe, Name: "STROBE"},
		{Tag: TagProjectHB, Name: "PROJECT_HB"},
		{Tag: TagExtendedHB, Name: "EXTENDED_HB"},
		{Tag: TagMonitorStatus, Name: "MONITOR_STATUS"},
		{Tag: TagProjectGeneric, Name: "PROJECT_GENERIC"},
		{Tag: TagExtendedHBDep, Name: "EXTENDED_HB_DEP"},
		{Tag: TagInfoDB, Name: "INFODB"},
		{Tag: TagTEWAStatus, Name: "TEWA_STATUS"},
		{Tag: TagFR24ADSB, Name: "FR24_ADSB"},
		{Tag: TagDoppler, Name: "DOPPLER"},
		{Tag: TagAreaEvent, Name: "AREA_EVENT"},
		{Tag: TagNavData, Name: "NAV_DATA"},
		{Tag: TagTest, Name: "TEST"},
		{Tag: TagGPSAStatus, Name: "GPSA_STATUS"},
	} {
		Register(s)
	}
}
