package nmea

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Terminator ends every sentence written to a client.
const Terminator = "\r\n"

var (
	ErrNoStart          = errors.New("nmea: missing '$' or '!'")
	ErrNoChecksum       = errors.New("nmea: missing checksum")
	ErrBadChecksum      = errors.New("nmea: bad checksum")
	ErrChecksumMismatch = errors.New("nmea: checksum mismatch")
	ErrShortType        = errors.New("nmea: short type")
)

// Sentence is a parsed NMEA 0183 sentence.
type Sentence struct {
	// Start is '$' for ordinary sentences and '!' for encapsulation sentences.
	Start byte
	// Talker is the two-character source id, or "P" for proprietary sentences.
	Talker string
	Type   string
	// Fields is the comma-split payload including the address field at index 0.
	Fields []string
}

// Checksum XORs every byte of payload. The payload excludes the leading '$'
// and the '*' delimiter.
func Checksum(payload string) byte {
	var ck byte
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return ck
}

// Encode builds a complete sentence: $<talker><type>,<fields>*<CC>\r\n.
func Encode(talker, sentenceType string, fields ...string) string {
	return encode('$', talker, sentenceType, fields)
}

// EncodeEncapsulated is Encode with the '!' start used by encapsulation
// sentences.
func EncodeEncapsulated(talker, sentenceType string, fields ...string) string {
	return encode('!', talker, sentenceType, fields)
}

func encode(start byte, talker, sentenceType string, fields []string) string {
	var b strings.Builder
	b.Grow(16 + 8*len(fields))
	b.WriteString(talker)
	b.WriteString(sentenceType)
	for _, f := range fields {
		b.WriteByte(',')
		b.WriteString(f)
	}
	payload := b.String()
	return fmt.Sprintf("%c%s*%02X%s", start, payload, Checksum(payload), Terminator)
}

// EnsureFormat strips every embedded CR/LF and surrounding whitespace and
// appends exactly one CRLF. Applying it twice yields the same string.
func EnsureFormat(msg string) string {
	if strings.ContainsAny(msg, "\r\n") {
		msg = strings.NewReplacer("\r", "", "\n", "").Replace(msg)
	}
	return strings.TrimSpace(msg) + Terminator
}

// Parse validates the checksum of line and splits it into fields.
func Parse(line string) (Sentence, error) {
	line = strings.TrimSpace(line)
	if line == "" || (line[0] != '$' && line[0] != '!') {
		return Sentence{}, ErrNoStart
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return Sentence{}, ErrNoChecksum
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return Sentence{}, ErrBadChecksum
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return Sentence{}, ErrBadChecksum
	}
	if Checksum(payload) != want[0] {
		return Sentence{}, ErrChecksumMismatch
	}

	parts := strings.Split(payload, ",")
	addr := parts[0]
	if len(addr) < 3 {
		return Sentence{}, ErrShortType
	}
	s := Sentence{Start: line[0], Fields: parts}
	if addr[0] == 'P' {
		s.Talker, s.Type = "P", addr[1:]
	} else {
		s.Talker, s.Type = addr[:2], addr[2:]
	}
	return s, nil
}

// Valid reports whether line is a well-formed, correctly checksummed sentence.
func Valid(line string) bool {
	_, err := Parse(line)
	return err == nil
}
