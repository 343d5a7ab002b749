/*
NAME
  avtp.go

DESCRIPTION
  avtp.go provides the fields common to every AVTP PDU, the subtype
  discriminants defined by IEEE 1722-2016 and the errors returned by the
  codec.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package avtp provides bit accurate access to the fields of IEEE 1722 Audio
// Video Transport Protocol (AVTP) PDUs.
//
// PDUs are byte slices owned by the caller and interpreted in network byte
// order. The functions in this package and its format specific subpackages
// (aaf, cvf, rvf, ieciidc, vsf and crf) read and write individual fields in
// place and never allocate.
package avtp

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by the codec. Returned errors wrap these sentinels and can
// be checked with errors.Is or errors.Cause.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrUnsupportedSubtype = errors.New("unsupported AVTP subtype")
)

// Subtype is the AVTP subtype discriminant carried in the first octet of
// every PDU.
type Subtype uint8

// AVTP subtypes, see IEEE 1722-2016 table 6.
const (
	Subtype61883IIDC     Subtype = 0x00
	SubtypeMMAStream     Subtype = 0x01
	SubtypeAAF           Subtype = 0x02
	SubtypeCVF           Subtype = 0x03
	SubtypeCRF           Subtype = 0x04
	SubtypeTSCF          Subtype = 0x05
	SubtypeSVF           Subtype = 0x06
	SubtypeRVF           Subtype = 0x07
	SubtypeAEFContinuous Subtype = 0x6e
	SubtypeVSFStream     Subtype = 0x6f
	SubtypeEFStream      Subtype = 0x7f
	SubtypeNTSCF         Subtype = 0x82
	SubtypeESCF          Subtype = 0xec
	SubtypeEECF          Subtype = 0xed
	SubtypeAEFDiscrete   Subtype = 0xee
	SubtypeADP           Subtype = 0xfa
	SubtypeAECP          Subtype = 0xfb
	SubtypeACMP          Subtype = 0xfc
	SubtypeMAAP          Subtype = 0xfe
	SubtypeEFControl     Subtype = 0xff
)

var subtypeNames = map[Subtype]string{
	Subtype61883IIDC:     "61883/IIDC",
	SubtypeMMAStream:     "MMA stream",
	SubtypeAAF:           "AAF",
	SubtypeCVF:           "CVF",
	SubtypeCRF:           "CRF",
	SubtypeTSCF:          "TSCF",
	SubtypeSVF:           "SVF",
	SubtypeRVF:           "RVF",
	SubtypeAEFContinuous: "AEF continuous",
	SubtypeVSFStream:     "VSF stream",
	SubtypeEFStream:      "EF stream",
	SubtypeNTSCF:         "NTSCF",
	SubtypeESCF:          "ESCF",
	SubtypeEECF:          "EECF",
	SubtypeAEFDiscrete:   "AEF discrete",
	SubtypeADP:           "ADP",
	SubtypeAECP:          "AECP",
	SubtypeACMP:          "ACMP",
	SubtypeMAAP:          "MAAP",
	SubtypeEFControl:     "EF control",
}

// String returns the name of the subtype as used by IEEE 1722.
func (s Subtype) String() string {
	if n, ok := subtypeNames[s]; ok {
		return n
	}
	return fmt.Sprintf("unknown (0x%02x)", uint8(s))
}

// Field identifies a field of the common AVTP header.
type Field uint8

// Common header fields.
const (
	FieldSubtype Field = iota
	FieldVersion
	FieldMax
)

// CommonHeaderSize is the size of the common header, i.e. the leading word
// of every PDU.
const CommonHeaderSize = 4

// Layout of the leading word of every PDU.
var (
	bitsSubtype = Field32(8, 31-7)
	bitsVersion = Field32(3, 31-11)
)

// Get returns the value of common header field f from pdu.
func Get(pdu []byte, f Field) (uint32, error) {
	if err := checkLen(pdu, CommonHeaderSize); err != nil {
		return 0, err
	}
	switch f {
	case FieldSubtype:
		return uint32(Get32(pdu, 0, bitsSubtype)), nil
	case FieldVersion:
		return uint32(Get32(pdu, 0, bitsVersion)), nil
	default:
		return 0, invalidField(f)
	}
}

// Set sets common header field f of pdu to v. Bits of v beyond the width of
// the field are discarded.
func Set(pdu []byte, f Field, v uint32) error {
	if err := checkLen(pdu, CommonHeaderSize); err != nil {
		return err
	}
	switch f {
	case FieldSubtype:
		Set32(pdu, 0, bitsSubtype, uint64(v))
	case FieldVersion:
		Set32(pdu, 0, bitsVersion, uint64(v))
	default:
		return invalidField(f)
	}
	return nil
}

// SubtypeOf returns the subtype of pdu.
func SubtypeOf(pdu []byte) (Subtype, error) {
	s, err := Get(pdu, FieldSubtype)
	return Subtype(s), err
}

// CheckLen returns an error wrapping ErrInvalidArgument if pdu is nil or
// shorter than n bytes. It is used by the format specific packages before
// touching a PDU.
func CheckLen(pdu []byte, n int) error {
	return checkLen(pdu, n)
}

func checkLen(pdu []byte, n int) error {
	if pdu == nil {
		return errors.Wrap(ErrInvalidArgument, "nil PDU")
	}
	if len(pdu) < n {
		return errors.Wrapf(ErrInvalidArgument, "PDU too short: have %d bytes, need %d", len(pdu), n)
	}
	return nil
}

// InvalidField returns an error wrapping ErrInvalidArgument for an out of
// range field identifier f.
func InvalidField(f interface{}) error {
	return invalidField(f)
}

func invalidField(f interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, "invalid field: %v", f)
}
