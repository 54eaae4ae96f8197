// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package numpy reads and writes arrays in Python's NumPy .npy and .npz file formats.
//
// Values are always held in memory as float64, regardless of the on-disk dtype: the
// files written by the training tools are small (scaling statistics, layer sizes, permutations
// and model weights), and this keeps the API to a single Array type.
package numpy

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidFormat is wrapped by the errors of malformed .npy and .npz contents.
var ErrInvalidFormat = errors.New("invalid NumPy file contents")

// MaxArraySize is the largest number of elements of an array read from a file.
var MaxArraySize = 1 << 30

// DType is the on-disk element type of an Array.
type DType int

const (
	Float64 DType = iota
	Float32
	Int64
	Int32
	Uint8
)

var dtypeNames = map[DType]string{
	Float64: "float64",
	Float32: "float32",
	Int64:   "int64",
	Int32:   "int32",
	Uint8:   "uint8",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, ok := dtypeNames[dtype]; ok {
		return name
	}
	return fmt.Sprintf("DType(%d)", int(dtype))
}

// Size in bytes of one element.
func (dtype DType) Size() int {
	switch dtype {
	case Float64, Int64:
		return 8
	case Float32, Int32:
		return 4
	case Uint8:
		return 1
	}
	return 0
}

// descr returns the NumPy dtype description, always little-endian.
func (dtype DType) descr() (string, error) {
	switch dtype {
	case Float64:
		return "<f8", nil
	case Float32:
		return "<f4", nil
	case Int64:
		return "<i8", nil
	case Int32:
		return "<i4", nil
	case Uint8:
		return "|u1", nil
	}
	return "", errors.Errorf("unsupported dtype %s for .npy", dtype)
}

// dtypeFromDescr converts a NumPy dtype description to a DType.
func dtypeFromDescr(descr string) (DType, error) {
	if strings.HasPrefix(descr, ">") {
		return 0, errors.Errorf("big-endian .npy files (%q) are not supported", descr)
	}
	switch {
	case strings.HasSuffix(descr, "f8"):
		return Float64, nil
	case strings.HasSuffix(descr, "f4"):
		return Float32, nil
	case strings.HasSuffix(descr, "i8"):
		return Int64, nil
	case strings.HasSuffix(descr, "i4"):
		return Int32, nil
	case strings.HasSuffix(descr, "u1"), descr == "|b1", descr == "?":
		return Uint8, nil
	}
	return 0, errors.Errorf("unsupported NumPy dtype: %s", descr)
}

// Array is a dense, row-major (C-order) n-dimensional array.
type Array struct {
	DType DType
	Shape []int
	Data  []float64
}

// New creates an Array with the given dtype and shape, with data copied from values.
// It panics if len(values) doesn't match the shape.
func New(dtype DType, values []float64, shape ...int) *Array {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	if size != len(values) {
		panic(errors.Errorf("numpy.New: shape %v has %d elements, but %d values were given", shape, size, len(values)))
	}
	data := make([]float64, len(values))
	copy(data, values)
	return &Array{DType: dtype, Shape: append([]int(nil), shape...), Data: data}
}

// Scalar creates a 0-dimensional float64 Array.
func Scalar(value float64) *Array {
	return &Array{DType: Float64, Shape: []int{}, Data: []float64{value}}
}

// FromInts creates a 1-dimensional int64 Array.
func FromInts(values []int) *Array {
	data := make([]float64, len(values))
	for ii, v := range values {
		data[ii] = float64(v)
	}
	return &Array{DType: Int64, Shape: []int{len(values)}, Data: data}
}

// Ints returns the values converted to int.
func (a *Array) Ints() []int {
	values := make([]int, len(a.Data))
	for ii, v := range a.Data {
		values[ii] = int(v)
	}
	return values
}

// Size returns the number of elements.
func (a *Array) Size() int {
	return len(a.Data)
}

// Rank returns the number of axes.
func (a *Array) Rank() int {
	return len(a.Shape)
}

// String implements fmt.Stringer.
func (a *Array) String() string {
	return fmt.Sprintf("numpy.Array(%s%v)", a.DType, a.Shape)
}

const magicString = "\x93NUMPY"

// FromNpyFile reads a .npy file.
func FromNpyFile(filePath string) (*Array, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npy file %q", filePath)
	}
	defer func() { _ = file.Close() }()
	array, err := FromNpyReader(file)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", filePath)
	}
	return array, nil
}

// FromNpyReader reads a .npy formatted array from r.
func FromNpyReader(r io.Reader) (*Array, error) {
	magic := make([]byte, len(magicString))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, errors.Wrapf(err, "failed to read magic string")
	}
	if string(magic) != magicString {
		return nil, errors.Wrapf(ErrInvalidFormat, "magic string mismatch")
	}
	version := make([]byte, 2)
	if _, err := io.ReadFull(r, version); err != nil {
		return nil, errors.Wrapf(err, "failed to read version")
	}

	var headerLen int
	switch {
	case version[0] == 1:
		lenBytes := make([]byte, 2)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v1.0)")
		}
		headerLen = int(binary.LittleEndian.Uint16(lenBytes))
	case version[0] >= 2:
		lenBytes := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v2.0+)")
		}
		headerLen = int(binary.LittleEndian.Uint32(lenBytes))
	default:
		return nil, errors.Wrapf(ErrInvalidFormat, "unsupported .npy version: %d.%d", version[0], version[1])
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrapf(err, "failed to read header")
	}
	descr, shape, fortranOrder, err := parseNpyHeader(string(headerBytes))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidFormat, "failed to parse .npy header: %v", err)
	}
	dtype, err := dtypeFromDescr(descr)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidFormat, "%v", err)
	}
	size, err := shapeSize(shape)
	if err != nil {
		return nil, err
	}
	// Read incrementally, so a header claiming more data than the file has doesn't allocate it.
	numBytes := int64(size * dtype.Size())
	raw, err := io.ReadAll(io.LimitReader(r, numBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read array data (expected %d bytes)", numBytes)
	}
	if int64(len(raw)) != numBytes {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "array data has %d bytes, expected %d", len(raw), numBytes)
	}
	data := decodeValues(dtype, raw)
	if fortranOrder && len(shape) > 1 {
		data = fortranToC(shape, data)
	}
	return &Array{DType: dtype, Shape: shape, Data: data}, nil
}

// shapeSize returns the number of elements of shape, at most MaxArraySize.
func shapeSize(shape []int) (int, error) {
	size := 1
	for _, dim := range shape {
		if dim < 0 {
			return 0, errors.Wrapf(ErrInvalidFormat, "negative dimension in shape %v", shape)
		}
		if dim != 0 && size > MaxArraySize/dim {
			return 0, errors.Wrapf(ErrInvalidFormat, "shape %v has more than %d elements", shape, MaxArraySize)
		}
		size *= dim
	}
	return size, nil
}

func decodeValues(dtype DType, raw []byte) []float64 {
	elemSize := dtype.Size()
	values := make([]float64, len(raw)/elemSize)
	for ii := range values {
		b := raw[ii*elemSize : (ii+1)*elemSize]
		switch dtype {
		case Float64:
			values[ii] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		case Float32:
			values[ii] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case Int64:
			values[ii] = float64(int64(binary.LittleEndian.Uint64(b)))
		case Int32:
			values[ii] = float64(int32(binary.LittleEndian.Uint32(b)))
		case Uint8:
			values[ii] = float64(b[0])
		}
	}
	return values
}

func encodeValues(dtype DType, values []float64) []byte {
	elemSize := dtype.Size()
	raw := make([]byte, len(values)*elemSize)
	for ii, v := range values {
		b := raw[ii*elemSize : (ii+1)*elemSize]
		switch dtype {
		case Float64:
			binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		case Float32:
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		case Int64:
			binary.LittleEndian.PutUint64(b, uint64(int64(v)))
		case Int32:
			binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		case Uint8:
			b[0] = uint8(v)
		}
	}
	return raw
}

// FortranToC converts values stored in column-major order (Fortran, MATLAB) with the given
// dimensions to row-major order (C, NumPy default).
func FortranToC(dims []int, values []float64) []float64 {
	return fortranToC(dims, values)
}

func fortranToC(dims []int, values []float64) []float64 {
	out := make([]float64, len(values))
	coordinates := make([]int, len(dims))
	for cIndex := range out {
		tmp := cIndex
		for axis := len(dims) - 1; axis >= 0; axis-- {
			coordinates[axis] = tmp % dims[axis]
			tmp /= dims[axis]
		}
		fortranIndex, multiplier := 0, 1
		for axis, dim := range dims {
			fortranIndex += coordinates[axis] * multiplier
			multiplier *= dim
		}
		out[cIndex] = values[fortranIndex]
	}
	return out
}

var (
	reDescr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	reFortran = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	reShape   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// parseNpyHeader extracts dtype, shape, and fortran_order from the .npy header dictionary.
func parseNpyHeader(header string) (descr string, shape []int, fortranOrder bool, err error) {
	m := reDescr.FindStringSubmatch(header)
	if len(m) < 2 {
		err = errors.Errorf("could not find 'descr' in header: %q", header)
		return
	}
	descr = m[1]

	m = reFortran.FindStringSubmatch(header)
	if len(m) < 2 {
		err = errors.Errorf("could not find 'fortran_order' in header: %q", header)
		return
	}
	fortranOrder = m[1] == "True"

	m = reShape.FindStringSubmatch(header)
	if len(m) < 2 {
		err = errors.Errorf("could not find 'shape' in header: %q", header)
		return
	}
	shape = []int{}
	for _, p := range strings.Split(m[1], ",") {
		p = strings.TrimSpace(p)
		if p == "" { // Trailing comma, as in "(10,)".
			continue
		}
		dim, convErr := strconv.Atoi(p)
		if convErr != nil {
			err = errors.Wrapf(convErr, "invalid shape value %q in header", p)
			return
		}
		if dim < 0 {
			err = errors.Errorf("negative shape value %d in header", dim)
			return
		}
		shape = append(shape, dim)
	}
	return
}

func shapeTuple(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	}
	parts := make([]string, len(shape))
	for ii, dim := range shape {
		parts[ii] = strconv.Itoa(dim)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ToNpyWriter serializes the array to w in .npy (version 1.0) format.
func ToNpyWriter(a *Array, w io.Writer) error {
	descr, err := a.DType.descr()
	if err != nil {
		return err
	}
	var header bytes.Buffer
	fmt.Fprintf(&header, "{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeTuple(a.Shape))
	// Preamble is magic (6) + version (2) + header length (2); NumPy aligns the data to 64 bytes.
	for (10+header.Len()+1)%64 != 0 {
		header.WriteByte(' ')
	}
	header.WriteByte('\n')

	preamble := make([]byte, 0, 10)
	preamble = append(preamble, magicString...)
	preamble = append(preamble, 1, 0)
	preamble = binary.LittleEndian.AppendUint16(preamble, uint16(header.Len()))
	if _, err := w.Write(preamble); err != nil {
		return errors.Wrapf(err, "failed to write .npy preamble")
	}
	if _, err := w.Write(header.Bytes()); err != nil {
		return errors.Wrapf(err, "failed to write .npy header")
	}
	if _, err := w.Write(encodeValues(a.DType, a.Data)); err != nil {
		return errors.Wrapf(err, "failed to write .npy data")
	}
	return nil
}

// ToNpyFile serializes the array to filePath.
// NumPy's convention of appending ".npy" is not applied: the caller chooses the full name.
func ToNpyFile(a *Array, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create .npy file %q", filePath)
	}
	if err = ToNpyWriter(a, file); err != nil {
		_ = file.Close()
		return errors.WithMessagef(err, "writing %q", filePath)
	}
	return errors.Wrapf(file.Close(), "failed to close %q", filePath)
}

// FromNpzFile reads a .npz archive and returns its arrays by name (file name without ".npy").
func FromNpzFile(filePath string) (map[string]*Array, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npz file %q", filePath)
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat .npz file %q", filePath)
	}
	arrays, err := FromNpzReader(file, info.Size())
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", filePath)
	}
	return arrays, nil
}

// FromNpzReader reads a .npz archive from r, of the given size.
func FromNpzReader(r io.ReaderAt, size int64) (map[string]*Array, error) {
	zipReader, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidFormat, "failed to read .npz archive: %v", err)
	}
	results := make(map[string]*Array)
	for _, f := range zipReader.File {
		cleanPath := path.Clean(f.Name)
		if path.IsAbs(cleanPath) || strings.HasPrefix(cleanPath, "..") {
			return nil, errors.Wrapf(ErrInvalidFormat, "invalid path in .npz archive: %q", f.Name)
		}
		if !strings.HasSuffix(f.Name, ".npy") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %q within .npz", f.Name)
		}
		array, err := FromNpyReader(rc)
		_ = rc.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to read array %q from .npz", f.Name)
		}
		results[strings.TrimSuffix(f.Name, ".npy")] = array
	}
	return results, nil
}

// ToNpzWriter writes the arrays as a .npz archive, with entries in sorted name order.
func ToNpzWriter(arrays map[string]*Array, w io.Writer) error {
	names := make([]string, 0, len(arrays))
	for name := range arrays {
		names = append(names, name)
	}
	sort.Strings(names)

	zipWriter := zip.NewWriter(w)
	for _, name := range names {
		entry, err := zipWriter.Create(name + ".npy")
		if err != nil {
			return errors.Wrapf(err, "failed to create %q in .npz archive", name)
		}
		if err := ToNpyWriter(arrays[name], entry); err != nil {
			return errors.WithMessagef(err, "failed to write array %q to .npz archive", name)
		}
	}
	return errors.Wrapf(zipWriter.Close(), "failed to close .npz archive")
}

// ToNpzFile writes the arrays as a .npz archive to filePath.
func ToNpzFile(arrays map[string]*Array, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create .npz file %q", filePath)
	}
	if err = ToNpzWriter(arrays, file); err != nil {
		_ = file.Close()
		return errors.WithMessagef(err, "writing %q", filePath)
	}
	return errors.Wrapf(file.Close(), "failed to close %q", filePath)
}
