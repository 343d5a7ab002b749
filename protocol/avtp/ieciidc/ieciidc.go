/*
NAME
  ieciidc.go

DESCRIPTION
  ieciidc.go provides access to the fields of IEC 61883/IIDC PDUs, including
  the CIP header and the source packet headers carried in the payload.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package ieciidc provides encoding and decoding of AVTP IEC 61883/IIDC
// PDUs, see IEEE 1722-2016 section 5.
package ieciidc

import (
	"github.com/pkg/errors"

	"github.com/ausocean/avtp/protocol/avtp"
)

/*
Layout of the 61883/IIDC specific words. cip_1 and cip_2 form the CIP header
at the start of the payload and are present only when tag is TagCIP.

subtype_data:     subtype(8) | sv(1) | version(3) | mr(1) | r(1) | gv(1) | tv(1) | seq(8) | r(7) | tu(1)
format_specific:  gateway_info(32)
packet_info:      stream_data_length(16) | tag(2) | channel(6) | tcode(4) | sy(4)
cip_1:            qi_1(2) | sid(6) | dbs(8) | fn(2) | qpc(3) | sph(1) | r(2) | dbc(8)
cip_2:            qi_2(2) | fmt(6) | fdf(8) | syt(16)

The fdf octet of cip_2 is interpreted according to fmt, so the FDF fields
(tsf, evt, sfc, n, nd and no_data) overlap one another.
*/

// Tag field values.
const (
	TagNoCIP = 0x00
	TagCIP   = 0x01
)

// TCode is the tcode of every 61883/IIDC PDU, an isochronous data block.
const TCode = 0x0a

// Sizes of the CIP header and of a source packet header (SPH).
const (
	CIPHeaderSize = 8
	SPHSize       = 4
)

// Byte offsets of the CIP header words and CIP data within the PDU.
const (
	cip1Idx    = avtp.PayloadIdx
	cip2Idx    = avtp.PayloadIdx + 4
	cipDataIdx = avtp.PayloadIdx + CIPHeaderSize
)

// Field identifies a field of a 61883/IIDC PDU.
type Field uint8

// 61883/IIDC PDU fields.
const (
	FieldSV Field = iota
	FieldMR
	FieldTV
	FieldSeqNum
	FieldTU
	FieldStreamID
	FieldTimestamp
	FieldStreamDataLen
	FieldGV
	FieldGatewayInfo
	FieldTag
	FieldChannel
	FieldTCode
	FieldSY
	FieldCIPQI1
	FieldCIPQI2
	FieldCIPSID
	FieldCIPDBS
	FieldCIPFN
	FieldCIPQPC
	FieldCIPSPH
	FieldCIPDBC
	FieldCIPFMT
	FieldCIPSYT

	// Format dependent fields of the fdf octet of cip_2. IEC 61883-4 and
	// 61883-7 use tsf, 61883-6 uses evt, sfc, n and no_data, and 61883-8
	// uses nd.
	FieldCIPTSF
	FieldCIPEVT
	FieldCIPSFC
	FieldCIPN
	FieldCIPND
	FieldCIPNoData
	FieldMax
)

var fieldNames = [...]string{
	FieldSV:            "sv",
	FieldMR:            "mr",
	FieldTV:            "tv",
	FieldSeqNum:        "sequence_num",
	FieldTU:            "tu",
	FieldStreamID:      "stream_id",
	FieldTimestamp:     "avtp_timestamp",
	FieldStreamDataLen: "stream_data_length",
	FieldGV:            "gv",
	FieldGatewayInfo:   "gateway_info",
	FieldTag:           "tag",
	FieldChannel:       "channel",
	FieldTCode:         "tcode",
	FieldSY:            "sy",
	FieldCIPQI1:        "qi_1",
	FieldCIPQI2:        "qi_2",
	FieldCIPSID:        "sid",
	FieldCIPDBS:        "dbs",
	FieldCIPFN:         "fn",
	FieldCIPQPC:        "qpc",
	FieldCIPSPH:        "sph",
	FieldCIPDBC:        "dbc",
	FieldCIPFMT:        "fmt",
	FieldCIPSYT:        "syt",
	FieldCIPTSF:        "tsf",
	FieldCIPEVT:        "evt",
	FieldCIPSFC:        "sfc",
	FieldCIPN:          "n",
	FieldCIPND:         "nd",
	FieldCIPNoData:     "no_data",
}

func (f Field) String() string {
	if f < FieldMax {
		return fieldNames[f]
	}
	return "invalid"
}

type word struct {
	idx  int
	bits avtp.Bits32
}

var layout = map[Field]word{
	FieldGV:          {avtp.SubtypeDataIdx, avtp.Field32(1, 31-14)},
	FieldGatewayInfo: {avtp.FormatSpecificIdx, avtp.Field32(32, 0)},
	FieldTag:         {avtp.PacketInfoIdx, avtp.Field32(2, 31-17)},
	FieldChannel:     {avtp.PacketInfoIdx, avtp.Field32(6, 31-23)},
	FieldTCode:       {avtp.PacketInfoIdx, avtp.Field32(4, 31-27)},
	FieldSY:          {avtp.PacketInfoIdx, avtp.Field32(4, 0)},

	FieldCIPQI1: {cip1Idx, avtp.Field32(2, 31-1)},
	FieldCIPSID: {cip1Idx, avtp.Field32(6, 31-7)},
	FieldCIPDBS: {cip1Idx, avtp.Field32(8, 31-15)},
	FieldCIPFN:  {cip1Idx, avtp.Field32(2, 31-17)},
	FieldCIPQPC: {cip1Idx, avtp.Field32(3, 31-20)},
	FieldCIPSPH: {cip1Idx, avtp.Field32(1, 31-21)},
	FieldCIPDBC: {cip1Idx, avtp.Field32(8, 0)},

	FieldCIPQI2:    {cip2Idx, avtp.Field32(2, 31-1)},
	FieldCIPFMT:    {cip2Idx, avtp.Field32(6, 31-7)},
	FieldCIPSYT:    {cip2Idx, avtp.Field32(16, 0)},
	FieldCIPTSF:    {cip2Idx, avtp.Field32(1, 31-8)},
	FieldCIPEVT:    {cip2Idx, avtp.Field32(2, 31-11)},
	FieldCIPSFC:    {cip2Idx, avtp.Field32(3, 31-15)},
	FieldCIPN:      {cip2Idx, avtp.Field32(1, 31-12)},
	FieldCIPND:     {cip2Idx, avtp.Field32(1, 31-8)},
	FieldCIPNoData: {cip2Idx, avtp.Field32(8, 31-15)},
}

func streamField(f Field) (avtp.StreamField, bool) {
	switch f {
	case FieldSV:
		return avtp.StreamFieldSV, true
	case FieldMR:
		return avtp.StreamFieldMR, true
	case FieldTV:
		return avtp.StreamFieldTV, true
	case FieldSeqNum:
		return avtp.StreamFieldSeqNum, true
	case FieldTU:
		return avtp.StreamFieldTU, true
	case FieldStreamID:
		return avtp.StreamFieldStreamID, true
	case FieldTimestamp:
		return avtp.StreamFieldTimestamp, true
	case FieldStreamDataLen:
		return avtp.StreamFieldStreamDataLen, true
	}
	return 0, false
}

// IsCIP returns true if f is a field of the CIP header.
func IsCIP(f Field) bool {
	return f >= FieldCIPQI1 && f < FieldMax
}

func lookup(pdu []byte, f Field) (word, error) {
	w, ok := layout[f]
	if !ok {
		return word{}, avtp.InvalidField(f)
	}
	n := avtp.StreamHeaderSize
	if IsCIP(f) {
		n += CIPHeaderSize
	}
	return w, avtp.CheckLen(pdu, n)
}

// Get returns the value of field f of the 61883/IIDC PDU pdu. The CIP fields
// require pdu to hold the CIP header.
func Get(pdu []byte, f Field) (uint64, error) {
	if sf, ok := streamField(f); ok {
		return avtp.StreamGet(pdu, sf)
	}
	w, err := lookup(pdu, f)
	if err != nil {
		return 0, err
	}
	return avtp.Get32(pdu, w.idx, w.bits), nil
}

// Set sets field f of the 61883/IIDC PDU pdu to v. Bits of v beyond the width
// of the field are discarded.
func Set(pdu []byte, f Field, v uint64) error {
	if sf, ok := streamField(f); ok {
		return avtp.StreamSet(pdu, sf, v)
	}
	w, err := lookup(pdu, f)
	if err != nil {
		return err
	}
	avtp.Set32(pdu, w.idx, w.bits, v)
	return nil
}

// Init zeroes the stream header of pdu and initialises it as a 61883/IIDC
// PDU with the given tag, TagNoCIP or TagCIP. pdu is left untouched if tag
// is invalid.
func Init(pdu []byte, tag uint64) error {
	if tag > TagCIP {
		return errors.Wrapf(avtp.ErrInvalidArgument, "invalid tag %d", tag)
	}
	err := avtp.StreamInit(pdu, avtp.Subtype61883IIDC)
	if err != nil {
		return err
	}
	err = Set(pdu, FieldTCode, TCode)
	if err != nil {
		return err
	}
	return Set(pdu, FieldTag, tag)
}

// SourcePacketSize returns the size in bytes of each source packet carried
// by pdu, including its source packet header, as given by the data block
// size and fraction number of the CIP header.
func SourcePacketSize(pdu []byte) (int, error) {
	dbs, err := Get(pdu, FieldCIPDBS)
	if err != nil {
		return 0, err
	}
	fn, _ := Get(pdu, FieldCIPFN)
	return int(dbs) * 4 << fn, nil
}

// SourcePacket returns the i'th source packet of pdu, including its source
// packet header. The returned slice shares memory with pdu.
func SourcePacket(pdu []byte, i int) ([]byte, error) {
	sph, err := Get(pdu, FieldCIPSPH)
	if err != nil {
		return nil, err
	}
	if sph != 1 {
		return nil, errors.Wrap(avtp.ErrInvalidArgument, "PDU has no source packet headers")
	}
	size, _ := SourcePacketSize(pdu)
	if size < SPHSize {
		return nil, errors.Wrapf(avtp.ErrInvalidArgument, "invalid source packet size %d", size)
	}
	if i < 0 || len(pdu) < cipDataIdx || i >= (len(pdu)-cipDataIdx)/size {
		return nil, errors.Wrapf(avtp.ErrInvalidArgument, "no source packet %d", i)
	}
	off := cipDataIdx + i*size
	return pdu[off : off+size], nil
}

// SourcePacketTimestamp returns the timestamp held in the source packet
// header of the i'th source packet of pdu.
func SourcePacketTimestamp(pdu []byte, i int) (uint32, error) {
	sp, err := SourcePacket(pdu, i)
	if err != nil {
		return 0, err
	}
	return avtp.Uint32At(sp, 0), nil
}

// SetSourcePacketTimestamp sets the timestamp held in the source packet
// header of the i'th source packet of pdu.
func SetSourcePacketTimestamp(pdu []byte, i int, ts uint32) error {
	sp, err := SourcePacket(pdu, i)
	if err != nil {
		return err
	}
	avtp.PutUint32At(sp, 0, ts)
	return nil
}
