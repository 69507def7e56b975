package source

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/goccy/go-json"
)

// SafetensorsFile reads weight tensors from a single .safetensors file.
// The header is parsed eagerly; tensor data is read on demand.
type SafetensorsFile struct {
	path      string
	dataStart int64
	tensors   map[string]safetensorsInfo
	names     []string
}

type safetensorsInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

type safetensorsHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// OpenSafetensors parses the header of a safetensors file.
func OpenSafetensors(path string) (*SafetensorsFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	headerLen, err := readU64(f)
	if err != nil {
		return nil, fmt.Errorf("safetensors %s: read header length: %w", path, err)
	}
	const maxHeaderLen = 256 << 20
	if headerLen > maxHeaderLen {
		return nil, fmt.Errorf("safetensors %s: header length %d out of range", path, headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, fmt.Errorf("safetensors %s: read header: %w", path, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("safetensors %s: parse header: %w", path, err)
	}
	delete(raw, "__metadata__")

	tensors := make(map[string]safetensorsInfo, len(raw))
	names := make([]string, 0, len(raw))
	for name, msg := range raw {
		var th safetensorsHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("safetensors %s: parse tensor %s: %w", path, name, err)
		}
		if len(th.DataOffsets) != 2 || th.DataOffsets[1] < th.DataOffsets[0] {
			return nil, fmt.Errorf("safetensors %s: tensor %s: invalid data_offsets", path, name)
		}
		tensors[name] = safetensorsInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return &SafetensorsFile{
		path:      path,
		dataStart: int64(8 + headerLen),
		tensors:   tensors,
		names:     names,
	}, nil
}

func (f *SafetensorsFile) Names() []string { return f.names }

func (f *SafetensorsFile) Has(name string) bool {
	_, ok := f.tensors[name]
	return ok
}

func (f *SafetensorsFile) Shape(name string) ([]int, bool) {
	info, ok := f.tensors[name]
	if !ok {
		return nil, false
	}
	shape := make([]int, len(info.Shape))
	copy(shape, info.Shape)
	return shape, true
}

func (f *SafetensorsFile) Close() error { return nil }

// Tensor reads and decodes one tensor to float32. F32, F16 and BF16 source
// dtypes are supported.
func (f *SafetensorsFile) Tensor(name string) (Tensor, error) {
	info, ok := f.tensors[name]
	if !ok {
		return Tensor{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}

	raw, err := f.readRange(info.Start, info.End)
	if err != nil {
		return Tensor{}, fmt.Errorf("read tensor %s: %w", name, err)
	}

	n, err := numElements(info.Shape)
	if err != nil {
		return Tensor{}, fmt.Errorf("tensor %s: %w", name, err)
	}

	var data []float32
	switch info.DType {
	case "F32":
		if len(raw) != n*4 {
			return Tensor{}, fmt.Errorf("tensor %s: invalid f32 data size", name)
		}
		data = make([]float32, n)
		for i := 0; i < n; i++ {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case "BF16":
		if len(raw) != n*2 {
			return Tensor{}, fmt.Errorf("tensor %s: invalid bf16 data size", name)
		}
		data = make([]float32, n)
		for i := 0; i < n; i++ {
			data[i] = bf16ToF32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case "F16":
		if len(raw) != n*2 {
			return Tensor{}, fmt.Errorf("tensor %s: invalid f16 data size", name)
		}
		data = make([]float32, n)
		for i := 0; i < n; i++ {
			data[i] = fp16ToF32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	default:
		return Tensor{}, fmt.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
	}

	shape := make([]int, len(info.Shape))
	copy(shape, info.Shape)
	return Tensor{Data: data, Shape: shape}, nil
}

func (f *SafetensorsFile) readRange(start, end int64) ([]byte, error) {
	buf := make([]byte, end-start)

	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	if _, err := file.ReadAt(buf, f.dataStart+start); err != nil {
		return nil, err
	}
	return buf, nil
}

func numElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("empty shape")
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return n, nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

func fp16ToF32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}
