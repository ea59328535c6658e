package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"dmritools/internal/models"
)

// Image is a NIfTI-1 header together with its raw voxel bytes.
type Image struct {
	Header    *Header
	ByteOrder binary.ByteOrder

	// Data holds NumVoxels()*bytesPerVoxel bytes in ByteOrder
	Data []byte
}

// openStream opens a file and transparently inflates it when the content is
// gzip compressed. The mime type is sniffed from the first 512 bytes.
func openStream(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open image: %w", err)
	}

	br := bufio.NewReader(f)
	// Peek returns io.EOF for files shorter than 512 bytes; what was read is
	// still enough to sniff.
	head, _ := br.Peek(512)
	mime := mimetype.Detect(head)

	log.WithFields(log.Fields{
		"file":     filepath.Base(path),
		"mimeType": mime.String(),
	}).Debug("Found mime type")

	if !mime.Is("application/gzip") {
		return br, f.Close, nil
	}

	log.WithFields(log.Fields{
		"decompression": "gzip",
	}).Debug("Decompressing ...")

	g, err := gzip.NewReader(br)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s: %v", models.ErrInvalidImage, path, err)
	}
	closer := func() error {
		g.Close()
		return f.Close()
	}
	return g, closer, nil
}

func readHeader(r io.Reader, path string) (*Header, binary.ByteOrder, error) {
	b := make([]byte, minHeaderSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: short header: %v", models.ErrInvalidImage, path, err)
	}
	h, order, err := decodeHeader(b)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, order, nil
}

// ReadHeader reads only the header of an image. Compressed files are
// inflated just far enough to decode it.
func ReadHeader(path string) (*Header, binary.ByteOrder, error) {
	r, closer, err := openStream(path)
	if err != nil {
		return nil, nil, err
	}
	defer closer()

	return readHeader(r, path)
}

// Read reads the header and voxel data of an image.
func Read(path string) (*Image, error) {
	r, closer, err := openStream(path)
	if err != nil {
		return nil, err
	}
	defer closer()

	h, order, err := readHeader(r, path)
	if err != nil {
		return nil, err
	}

	// Skip the extension flag and any extensions.
	if skip := int64(h.dataOffset() - minHeaderSize); skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, fmt.Errorf("%w: %s: file has fewer bytes than offset requires", models.ErrInvalidImage, path)
		}
	}

	data := make([]byte, h.NumVoxels()*bytesPerVoxel(h.DataType))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("%w: %s: expected %d bytes of voxel data: %v", models.ErrInvalidImage, path, len(data), err)
	}

	log.WithFields(log.Fields{
		"file": filepath.Base(path),
		"size": humanize.Bytes(uint64(len(data))),
	}).Debug("Read voxel data")

	return &Image{Header: h, ByteOrder: order, Data: data}, nil
}

// LoadVolume reads an image and decodes it into floating point values.
func LoadVolume(path string) (*models.Volume, error) {
	img, err := Read(path)
	if err != nil {
		return nil, err
	}
	return img.Volume()
}

// Float64s decodes the voxel data, applying scl_slope and scl_inter.
func (img *Image) Float64s() ([]float64, error) {
	h := img.Header
	n := h.NumVoxels()
	bpv := bytesPerVoxel(h.DataType)
	if len(img.Data) < n*bpv {
		return nil, fmt.Errorf("%w: have %d data bytes, need %d", models.ErrInvalidImage, len(img.Data), n*bpv)
	}

	o := img.ByteOrder
	b := img.Data
	out := make([]float64, n)
	for i := range out {
		p := b[i*bpv : (i+1)*bpv]
		switch h.DataType {
		case DTUint8:
			out[i] = float64(p[0])
		case DTInt8:
			out[i] = float64(int8(p[0]))
		case DTInt16:
			out[i] = float64(int16(o.Uint16(p)))
		case DTUint16:
			out[i] = float64(o.Uint16(p))
		case DTInt32:
			out[i] = float64(int32(o.Uint32(p)))
		case DTUint32:
			out[i] = float64(o.Uint32(p))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(o.Uint32(p)))
		case DTInt64:
			out[i] = float64(int64(o.Uint64(p)))
		case DTUint64:
			out[i] = float64(o.Uint64(p))
		case DTFloat64:
			out[i] = math.Float64frombits(o.Uint64(p))
		}
	}

	if h.hasScaling() {
		m, c := float64(h.SclSlope), float64(h.SclInter)
		for i := range out {
			out[i] = m*out[i] + c
		}
	}
	return out, nil
}

// Volume decodes the image into a models.Volume carrying the best affine.
func (img *Image) Volume() (*models.Volume, error) {
	data, err := img.Float64s()
	if err != nil {
		return nil, err
	}
	h := img.Header
	v := &models.Volume{
		Data:   data,
		Dims:   h.Dims(),
		Affine: h.Affine(),
	}
	v.VoxelSize.X = float64(h.PixDim[1])
	v.VoxelSize.Y = float64(h.PixDim[2])
	v.VoxelSize.Z = float64(h.PixDim[3])
	return v, nil
}

// FromVolume builds a float32 image from a volume. The affine is stored as an
// aligned sform; the qform is left unset.
func FromVolume(v *models.Volume) (*Image, error) {
	if len(v.Dims) < 1 || len(v.Dims) > 7 {
		return nil, fmt.Errorf("%w: %d dimensions", models.ErrShapeMismatch, len(v.Dims))
	}
	if len(v.Data) != v.Len() {
		return nil, fmt.Errorf("%w: %d values for dims %v", models.ErrShapeMismatch, len(v.Data), v.Dims)
	}

	h := &Header{
		SizeOfHdr: minHeaderSize,
		DataType:  DTFloat32,
		BitPix:    32,
		VoxOffset: headerSize,
		XYZTUnits: unitsMM | unitsSec,
		Magic:     singleFileMagic,
	}
	h.Dim[0] = int16(len(v.Dims))
	for i := range h.Dim[1:] {
		h.Dim[i+1] = 1
		h.PixDim[i+1] = 1
	}
	for i, d := range v.Dims {
		h.Dim[i+1] = int16(d)
	}
	h.PixDim[0] = 1

	affine := v.Affine
	if affine == nil {
		affine = mat.NewDense(4, 4, []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1})
	}
	h.SetSForm(affine, XFormAlignedAnat)
	for j := 0; j < 3; j++ {
		h.PixDim[j+1] = float32(mat.Norm(affine.Slice(0, 3, j, j+1), 2))
	}

	data := make([]byte, 4*len(v.Data))
	for i, x := range v.Data {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(float32(x)))
	}

	return &Image{Header: h, ByteOrder: binary.LittleEndian, Data: data}, nil
}

// SaveVolume writes a volume as a float32 image.
func SaveVolume(v *models.Volume, path string) error {
	img, err := FromVolume(v)
	if err != nil {
		return err
	}
	return img.Write(path)
}

// Write stores the image at path, gzip compressed when the name ends in
// ".gz". Extensions are not written. The file is replaced atomically.
func (img *Image) Write(path string) error {
	h := *img.Header
	h.SizeOfHdr = minHeaderSize
	h.VoxOffset = headerSize
	h.Magic = singleFileMagic

	var buf bytes.Buffer
	if err := binary.Write(&buf, img.ByteOrder, &h); err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	buf.Write(make([]byte, headerSize-minHeaderSize))
	buf.Write(img.Data)

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := writePayload(f, buf.Bytes(), strings.HasSuffix(path, ".gz")); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	log.WithFields(log.Fields{
		"file": filepath.Base(path),
		"size": humanize.Bytes(uint64(buf.Len())),
	}).Debug("Wrote image")
	return nil
}

func writePayload(w io.Writer, payload []byte, compress bool) error {
	if !compress {
		_, err := w.Write(payload)
		return err
	}
	g := gzip.NewWriter(w)
	if _, err := g.Write(payload); err != nil {
		return err
	}
	return g.Close()
}
