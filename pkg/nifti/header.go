// Package nifti reads and writes single-file NIfTI-1 images (.nii and .nii.gz).
//
// Based on the official definition of the nifti1 header,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	"dmritools/internal/models"
)

// Header defines the structure of the Nifti1 header.
//
// Type translation from nifti1 C header to golang:
//
// C     Go
// -------------
// int   int32
// float float32
// short int16
// char  int8/byte
type Header struct {
	SizeOfHdr          int32    // Must be 348
	UnusedDataType     [10]byte // Unused
	UnusedDbName       [18]byte // Unused
	UnusedExtents      int32    // Unused
	UnusedSessionError int16    // Unused
	UnusedRegular      byte     // Unused
	DimInfo            byte     // MRI slice ordering

	Dim           [8]int16   // Data array dimensions
	IntentP1      float32    // 1st intent parameter
	IntentP2      float32    // 2nd intent parameter
	IntentP3      float32    // 3rd intent parameter
	IntentCode    int16      // NIFTI_INTENT_* code
	DataType      int16      // Defines data type
	BitPix        int16      // Number bits/voxel
	SliceStart    int16      // First slice index
	PixDim        [8]float32 // Grid spacing
	VoxOffset     float32    // Offset into .nii file
	SclSlope      float32    // Data scaling: slope
	SclInter      float32    // Data scaling: offset
	SliceEnd      int16      // Last slice index
	SliceCode     byte       // Slice timing order
	XYZTUnits     byte       // Units of pixdim[1..4]
	CalMax        float32    // Max display intensity
	CalMin        float32    // Min display intensity
	SliceDuration float32    // Time for 1 slice
	TOffset       float32    // Time axis shift
	UnusedGlmax   int32      // Unused
	UnusedGlmin   int32      // Unused

	Descrip [80]byte // Any text you like
	AuxFile [24]byte // Auxiliary filename

	QFormCode int16 // NIFTI_XFORM_* code
	SFormCode int16 // NIFTI_XFORM_* code

	QuaternB float32 // Quaternion b params
	QuaternC float32 // Quaternion c params
	QuaternD float32 // Quaternion d params
	QOffsetX float32 // Quaternion x shift
	QOffsetY float32 // Quaternion y shift
	QOffsetZ float32 // Quaternion z shift

	SRowX [4]float32 // 1st row affine transform
	SRowY [4]float32 // 2nd row affine transform
	SRowZ [4]float32 // 3rd row affine transform

	IntentName [16]byte // 'name' or meaning of data

	Magic [4]byte // Must be "n+1\0" for single-file images
}

const (
	minHeaderSize = 348
	headerSize    = 352
)

// Datatype codes (NIFTI_TYPE_*).
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
	DTInt64   int16 = 1024
	DTUint64  int16 = 1280
)

// Transform codes (NIFTI_XFORM_*).
const (
	XFormUnknown     int16 = 0
	XFormScannerAnat int16 = 1
	XFormAlignedAnat int16 = 2
)

const (
	unitsMM  byte = 2
	unitsSec byte = 8
)

var singleFileMagic = [4]byte{'n', '+', '1', 0}

// bytesPerVoxel returns the storage width of a datatype code, or 0 when the
// datatype is not supported.
func bytesPerVoxel(dt int16) int {
	switch dt {
	case DTUint8, DTInt8:
		return 1
	case DTInt16, DTUint16:
		return 2
	case DTInt32, DTUint32, DTFloat32:
		return 4
	case DTFloat64, DTInt64, DTUint64:
		return 8
	}
	return 0
}

// decodeHeader parses the first 348 bytes of a NIfTI-1 file and returns the
// byte order the file was written in. The order is inferred from Dim[0],
// which must lie in [1, 7].
// Refer to https://github.com/afni/afni/blob/master/src/nifti/niftilib/nifti1_io.c#L3948-L4042
func decodeHeader(b []byte) (*Header, binary.ByteOrder, error) {
	if len(b) < minHeaderSize {
		return nil, nil, fmt.Errorf("%w: header has %d bytes, need %d", models.ErrInvalidImage, len(b), minHeaderSize)
	}

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		h := new(Header)
		if err := binary.Read(bytes.NewReader(b[:minHeaderSize]), order, h); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
		}
		if h.Dim[0] < 1 || h.Dim[0] > 7 {
			continue
		}

		log.WithFields(log.Fields{
			"byteOrder": order,
		}).Debug("Found byte order")

		if err := validateHeader(h); err != nil {
			return nil, nil, err
		}
		return h, order, nil
	}

	return nil, nil, fmt.Errorf("%w: cannot infer byte order, Dim[0] not in range [1, 7]", models.ErrInvalidImage)
}

// validateHeader checks the fields needed to locate and decode voxel data.
// Check https://github.com/afni/afni/blob/master/src/nifti/niftilib/nifti1_io.c#L4045-L4104
func validateHeader(h *Header) error {
	switch {
	case h.SizeOfHdr != minHeaderSize:
		return fmt.Errorf("%w: invalid header size %d", models.ErrInvalidImage, h.SizeOfHdr)

	// Header and data must be stored in the same file.
	case h.Magic != singleFileMagic:
		return fmt.Errorf("%w: invalid file magic %q, data must be stored in same file as header", models.ErrInvalidImage, h.Magic[:3])

	case bytesPerVoxel(h.DataType) == 0:
		return fmt.Errorf("%w: unsupported datatype %d", models.ErrInvalidImage, h.DataType)
	}

	for i := 1; i <= int(h.Dim[0]); i++ {
		if h.Dim[i] < 1 {
			return fmt.Errorf("%w: dim[%d] = %d", models.ErrInvalidImage, i, h.Dim[i])
		}
	}

	log.WithFields(log.Fields{
		"headerValid": true,
		"dataType":    h.DataType,
		"dims":        h.Dims(),
	}).Debug("Header is valid")

	return nil
}

// Dims returns the used dimensions, dim[1] .. dim[dim[0]].
func (h *Header) Dims() []int {
	n := int(h.Dim[0])
	dims := make([]int, n)
	for i := 0; i < n; i++ {
		dims[i] = int(h.Dim[i+1])
	}
	return dims
}

// NumVoxels returns the number of values stored in the image.
func (h *Header) NumVoxels() int {
	n := 1
	for _, d := range h.Dims() {
		n *= d
	}
	return n
}

// dataOffset returns where voxel data starts. Offsets below 352 are invalid
// for single-file images and are treated as 352.
func (h *Header) dataOffset() int {
	if h.VoxOffset < headerSize {
		return headerSize
	}
	return int(h.VoxOffset)
}

// hasScaling reports whether voxel values must be scaled on read, matching
// the behaviour of nibabel's get_fdata.
func (h *Header) hasScaling() bool {
	if h.SclSlope == 0 || h.SclSlope != h.SclSlope {
		return false
	}
	return !(h.SclSlope == 1 && h.SclInter == 0)
}
