package nfc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spoolsync/spoolsync/cmd/spoolsync/shared"
	"go.uber.org/zap"
)

// Spool tags carry a single NDEF text record in the NXP Type 2 tag layout:
// the record sits in an NDEF message TLV (0x03) in user memory, closed by a
// terminator TLV (0xFE). The text itself is line based, e.g.
//
//	SPOOL:5
//	FILAMENT:2
//
// Unknown lines are ignored so tags written by other tools keep working.

const (
	tlvNull       = 0x00
	tlvLockCtl    = 0x01
	tlvMemoryCtl  = 0x02
	tlvNDEF       = 0x03
	tlvTerminator = 0xFE

	recordSpool    = "SPOOL"
	recordFilament = "FILAMENT"
)

var errNoNDEFMessage = errors.New("tag does not contain an NDEF message")

// EncodeTagPayload builds the full TLV byte sequence (including terminator)
// for a tag holding the given spool & filament ids.
func EncodeTagPayload(spool int, filament int) []byte {
	text := fmt.Sprintf("%s:%d\n%s:%d\n", recordSpool, spool, recordFilament, filament)

	// Well-known text record, short format, language "en".
	payload := append([]byte{0x02, 'e', 'n'}, []byte(text)...)
	record := []byte{0xD1, 0x01, byte(len(payload)), 'T'}
	record = append(record, payload...)

	out := []byte{tlvNDEF, byte(len(record))}
	out = append(out, record...)
	return append(out, tlvTerminator)
}

// DecodeTagPayload extracts the spool & filament records from a dump of the
// tag's user memory. Fields missing from the text stay nil in the result.
func DecodeTagPayload(data []byte) (shared.TagRecord, error) {
	message, err := findNDEFMessage(data)
	if err != nil {
		return shared.TagRecord{}, err
	}
	text, err := textRecordContent(message)
	if err != nil {
		return shared.TagRecord{}, err
	}
	return parseTagText(text), nil
}

// findNDEFMessage walks the TLV blocks until it hits the NDEF message TLV.
func findNDEFMessage(data []byte) ([]byte, error) {
	i := 0
	for i < len(data) {
		switch data[i] {
		case tlvNull:
			i++
		case tlvTerminator:
			return nil, errNoNDEFMessage
		case tlvLockCtl, tlvMemoryCtl:
			if i+1 >= len(data) {
				return nil, errNoNDEFMessage
			}
			i += 2 + int(data[i+1])
		case tlvNDEF:
			if i+1 >= len(data) {
				return nil, errNoNDEFMessage
			}
			length := int(data[i+1])
			i += 2
			if data[i-1] == 0xFF {
				// three byte length form
				if i+2 > len(data) {
					return nil, errNoNDEFMessage
				}
				length = int(data[i])<<8 | int(data[i+1])
				i += 2
			}
			if i+length > len(data) {
				return nil, fmt.Errorf("NDEF message TLV is truncated: %d bytes missing", i+length-len(data))
			}
			return data[i : i+length], nil
		default:
			// unknown TLV, give up rather than guess at its length
			return nil, fmt.Errorf("unexpected TLV 0x%02x in tag memory", data[i])
		}
	}
	return nil, errNoNDEFMessage
}

// textRecordContent returns the text of the first well-known text record in
// an NDEF message.
func textRecordContent(message []byte) (string, error) {
	if len(message) < 3 {
		return "", errors.New("NDEF message is too short")
	}

	header := message[0]
	tnf := header & 0x07
	shortRecord := header&0x10 != 0
	hasID := header&0x08 != 0

	if tnf != 0x01 {
		return "", fmt.Errorf("unsupported NDEF record TNF 0x%02x", tnf)
	}
	if !shortRecord {
		return "", errors.New("long form NDEF records are not supported")
	}

	typeLen := int(message[1])
	payloadLen := int(message[2])
	i := 3
	idLen := 0
	if hasID {
		if i >= len(message) {
			return "", errors.New("NDEF record is truncated")
		}
		idLen = int(message[i])
		i++
	}
	if i+typeLen+idLen+payloadLen > len(message) {
		return "", errors.New("NDEF record is truncated")
	}
	recordType := string(message[i : i+typeLen])
	if recordType != "T" {
		return "", fmt.Errorf("unsupported NDEF record type %q", recordType)
	}
	payload := message[i+typeLen+idLen : i+typeLen+idLen+payloadLen]

	if len(payload) < 1 {
		return "", errors.New("text record payload is empty")
	}
	langLen := int(payload[0] & 0x3F)
	if 1+langLen > len(payload) {
		return "", errors.New("text record payload is truncated")
	}
	return string(payload[1+langLen:]), nil
}

// parseTagText picks the SPOOL and FILAMENT lines out of the record text.
func parseTagText(text string) shared.TagRecord {
	var rec shared.TagRecord
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			zap.S().Debugf("Ignoring tag line without separator: %q", line)
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || id < 0 {
			zap.S().Warnf("Ignoring tag line with invalid id: %q", line)
			continue
		}
		switch strings.TrimSpace(key) {
		case recordSpool:
			rec.SpoolID = &id
		case recordFilament:
			rec.FilamentID = &id
		default:
			zap.S().Debugf("Ignoring unknown tag record %q", key)
		}
	}
	return rec
}
