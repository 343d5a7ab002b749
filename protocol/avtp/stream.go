/*
NAME
  stream.go

DESCRIPTION
  stream.go provides access to the fields shared by every stream format
  AVTPDU (AAF, CVF, RVF, IEC 61883/IIDC and VSF stream).

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package avtp

/*
Layout of the stream PDU header.

==============================================================================
| octet    | 0          | 1              | 2              | 3              |
==============================================================================
| 0-3      | subtype    | sv|ver|mr|r|tv | sequence_num   | format | tu    |
------------------------------------------------------------------------------
| 4-11     | stream_id                                                      |
------------------------------------------------------------------------------
| 12-15    | avtp_timestamp                                                 |
------------------------------------------------------------------------------
| 16-19    | format_specific                                                |
------------------------------------------------------------------------------
| 20-23    | stream_data_length               | format specific           |
------------------------------------------------------------------------------
| 24-      | avtp_payload                                                   |
------------------------------------------------------------------------------
*/

// Byte offsets of the stream PDU header words.
const (
	SubtypeDataIdx    = 0
	StreamIDIdx       = 4
	AVTPTimeIdx       = 12
	FormatSpecificIdx = 16
	PacketInfoIdx     = 20
	PayloadIdx        = 24
)

// StreamHeaderSize is the size of the stream PDU header preceding the
// payload.
const StreamHeaderSize = PayloadIdx

// StreamField identifies a field shared by all stream PDUs.
type StreamField uint8

// Stream PDU fields.
const (
	StreamFieldSV StreamField = iota
	StreamFieldMR
	StreamFieldTV
	StreamFieldSeqNum
	StreamFieldTU
	StreamFieldStreamID
	StreamFieldTimestamp
	StreamFieldStreamDataLen
	StreamFieldMax
)

var streamFieldNames = [...]string{
	StreamFieldSV:            "sv",
	StreamFieldMR:            "mr",
	StreamFieldTV:            "tv",
	StreamFieldSeqNum:        "sequence_num",
	StreamFieldTU:            "tu",
	StreamFieldStreamID:      "stream_id",
	StreamFieldTimestamp:     "avtp_timestamp",
	StreamFieldStreamDataLen: "stream_data_length",
}

func (f StreamField) String() string {
	if f < StreamFieldMax {
		return streamFieldNames[f]
	}
	return "invalid"
}

var (
	bitsSV            = Field32(1, 31-8)
	bitsMR            = Field32(1, 31-12)
	bitsTV            = Field32(1, 31-15)
	bitsSeqNum        = Field32(8, 31-23)
	bitsTU            = Field32(1, 0)
	bitsStreamDataLen = Field32(16, 31-15)
)

// StreamGet returns the value of stream field f from pdu. An error wrapping
// ErrInvalidArgument is returned if pdu is nil or shorter than the stream
// header, or f is not a stream field.
func StreamGet(pdu []byte, f StreamField) (uint64, error) {
	if err := checkLen(pdu, StreamHeaderSize); err != nil {
		return 0, err
	}
	switch f {
	case StreamFieldSV:
		return Get32(pdu, SubtypeDataIdx, bitsSV), nil
	case StreamFieldMR:
		return Get32(pdu, SubtypeDataIdx, bitsMR), nil
	case StreamFieldTV:
		return Get32(pdu, SubtypeDataIdx, bitsTV), nil
	case StreamFieldSeqNum:
		return Get32(pdu, SubtypeDataIdx, bitsSeqNum), nil
	case StreamFieldTU:
		return Get32(pdu, SubtypeDataIdx, bitsTU), nil
	case StreamFieldStreamDataLen:
		return Get32(pdu, PacketInfoIdx, bitsStreamDataLen), nil
	case StreamFieldTimestamp:
		return uint64(Uint32At(pdu, AVTPTimeIdx)), nil
	case StreamFieldStreamID:
		return Uint64At(pdu, StreamIDIdx), nil
	default:
		return 0, invalidField(f)
	}
}

// StreamSet sets stream field f of pdu to v. Bits of v beyond the width of
// the field are discarded.
func StreamSet(pdu []byte, f StreamField, v uint64) error {
	if err := checkLen(pdu, StreamHeaderSize); err != nil {
		return err
	}
	switch f {
	case StreamFieldSV:
		Set32(pdu, SubtypeDataIdx, bitsSV, v)
	case StreamFieldMR:
		Set32(pdu, SubtypeDataIdx, bitsMR, v)
	case StreamFieldTV:
		Set32(pdu, SubtypeDataIdx, bitsTV, v)
	case StreamFieldSeqNum:
		Set32(pdu, SubtypeDataIdx, bitsSeqNum, v)
	case StreamFieldTU:
		Set32(pdu, SubtypeDataIdx, bitsTU, v)
	case StreamFieldStreamDataLen:
		Set32(pdu, PacketInfoIdx, bitsStreamDataLen, v)
	case StreamFieldTimestamp:
		PutUint32At(pdu, AVTPTimeIdx, uint32(v))
	case StreamFieldStreamID:
		PutUint64At(pdu, StreamIDIdx, v)
	default:
		return invalidField(f)
	}
	return nil
}

// StreamInit zeroes the stream header of pdu, sets its subtype to s and sets
// the sv bit. The payload is left untouched. It is used by the Init functions
// of the stream format packages once their own arguments are validated.
func StreamInit(pdu []byte, s Subtype) error {
	if err := checkLen(pdu, StreamHeaderSize); err != nil {
		return err
	}
	clear(pdu[:StreamHeaderSize])
	Set32(pdu, SubtypeDataIdx, bitsSubtype, uint64(s))
	Set32(pdu, SubtypeDataIdx, bitsSV, 1)
	return nil
}

// Payload returns the avtp_payload of a stream PDU, i.e. everything following
// the stream header. The returned slice shares memory with pdu.
func Payload(pdu []byte) ([]byte, error) {
	if err := checkLen(pdu, StreamHeaderSize); err != nil {
		return nil, err
	}
	return pdu[PayloadIdx:], nil
}
