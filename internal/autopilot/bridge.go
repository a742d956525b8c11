package autopilot

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"nmea-bridge/internal/nmea"
)

// BridgeMode selects the wrapper commands arrive in.
type BridgeMode string

const (
	// Encapsulated expects SeaSmart $PCDIN sentences.
	Encapsulated BridgeMode = "encapsulated"
	// Native expects Digital Yacht !PDGY sentences.
	Native BridgeMode = "native"
)

const (
	pgnHex = "01EF00"
	pgnDec = "126720"
)

// Raymarine keystroke codes.
const (
	KeyAuto    byte = 0x01
	KeyStandby byte = 0x02
	KeyMinus1  byte = 0x05
	KeyMinus10 byte = 0x06
	KeyPlus1   byte = 0x07
	KeyPlus10  byte = 0x08
)

// raymarine is the manufacturer and industry prefix of PGN 126720 data;
// keystroke is the proprietary id of a Seatalk keystroke that follows it.
var (
	raymarine = []byte{0x3B, 0x9F}
	keystroke = []byte{0xF0, 0x81, 0x86, 0x21}
)

var ErrMalformed = errors.New("autopilot: malformed command")

type Bridge struct {
	mode   BridgeMode
	state  *Shared
	notify func(State)
	log    zerolog.Logger
}

// NewBridge returns a bridge mutating state. notify is called after every
// mutation; it may be nil.
func NewBridge(mode BridgeMode, state *Shared, notify func(State), log zerolog.Logger) *Bridge {
	return &Bridge{mode: mode, state: state, notify: notify, log: log}
}

// IsCommand reports whether msg is a PGN 126720 wrapper for this mode.
func (b *Bridge) IsCommand(msg string) bool {
	msg = strings.TrimSpace(msg)
	switch b.mode {
	case Native:
		return strings.HasPrefix(msg, "!PDGY,"+pgnDec+",")
	default:
		return strings.HasPrefix(msg, "$PCDIN,"+pgnHex+",")
	}
}

// Handle is the server's inbound hook: anything that is not a command is
// ignored, a malformed command is an error.
func (b *Bridge) Handle(clientID, msg string) error {
	if !b.IsCommand(msg) {
		return nil
	}
	if err := b.Process(msg); err != nil {
		return fmt.Errorf("client %s: %w", clientID, err)
	}
	return nil
}

// Process decodes one command and applies it. Payloads from other
// manufacturers and unknown key codes are ignored.
func (b *Bridge) Process(msg string) error {
	data, err := b.payload(msg)
	if err != nil {
		return err
	}
	key, ok := decodeKeystroke(data)
	if !ok {
		b.log.Debug().Hex("payload", data).Msg("ignoring non-keystroke payload")
		return nil
	}

	st, changed := b.state.update(func(s *State) {
		switch key {
		case KeyAuto:
			s.Mode, s.Engaged = ModeAuto, true
			s.TargetHeadingDeg = s.CurrentHeadingDeg
		case KeyStandby:
			s.Mode, s.Engaged = ModeStandby, false
		case KeyMinus1:
			s.TargetHeadingDeg -= 1
		case KeyMinus10:
			s.TargetHeadingDeg -= 10
		case KeyPlus1:
			s.TargetHeadingDeg += 1
		case KeyPlus10:
			s.TargetHeadingDeg += 10
		}
	})
	if !changed {
		b.log.Debug().Uint8("key", key).Msg("keystroke left autopilot unchanged")
		return nil
	}
	b.log.Info().Str("mode", string(st.Mode)).Float64("target", st.TargetHeadingDeg).Msg("autopilot command")
	if b.notify != nil {
		b.notify(st)
	}
	return nil
}

func (b *Bridge) payload(msg string) ([]byte, error) {
	s, err := nmea.Parse(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if b.mode == Native {
		// !PDGY,<pgn>,<priority>,<src>,<dst>,<timer>,<base64 data>
		if s.Type != "DGY" || len(s.Fields) != 7 || s.Fields[1] != pgnDec {
			return nil, fmt.Errorf("%w: want !PDGY,%s with 7 fields", ErrMalformed, pgnDec)
		}
		data, err := base64.StdEncoding.DecodeString(s.Fields[6])
		if err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
		}
		return data, nil
	}
	// $PCDIN,<pgn>,<timestamp>,<src>,<hex data>
	if s.Type != "CDIN" || len(s.Fields) != 5 || s.Fields[1] != pgnHex {
		return nil, fmt.Errorf("%w: want $PCDIN,%s with 5 fields", ErrMalformed, pgnHex)
	}
	data, err := hex.DecodeString(s.Fields[4])
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	return data, nil
}

func decodeKeystroke(data []byte) (byte, bool) {
	n := len(raymarine) + len(keystroke)
	if len(data) < n+1 {
		return 0, false
	}
	for i, c := range raymarine {
		if data[i] != c {
			return 0, false
		}
	}
	for i, c := range keystroke {
		if data[len(raymarine)+i] != c {
			return 0, false
		}
	}
	key := data[n]
	// The complement byte is optional; when present it must match.
	if len(data) > n+1 && data[n+1] != ^key {
		return 0, false
	}
	return key, true
}

// EncodeKeystroke builds the command a chartplotter sends for key.
func EncodeKeystroke(mode BridgeMode, key byte) string {
	data := append(append(append([]byte{}, raymarine...), keystroke...), key, ^key)
	if mode == Native {
		return nmea.EncodeEncapsulated("P", "DGY", pgnDec, "3", "0", "255", "0", base64.StdEncoding.EncodeToString(data))
	}
	return nmea.Encode("P", "CDIN", pgnHex, "00000000", "00", strings.ToUpper(hex.EncodeToString(data)))
}
