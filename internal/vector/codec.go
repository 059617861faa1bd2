package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hyperjump/proshno/internal/corpus"
	"github.com/hyperjump/proshno/internal/models"
)

// Binary layout, little-endian:
//
//	magic "PRSV" | version u16 | model id len u16 | model id | dim u32 | count u32 | built-at unix nanos i64
//	then count rows of: document id i64 | dim × f32
const (
	magic         = "PRSV"
	formatVersion = 1
	headerFixed   = 4 + 2 + 2 + 4 + 4 + 8
)

// MarshalBinary encodes the snapshot's model tag and vectors, aligned by corpus order.
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	if len(s.modelID) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: model id too long", models.ErrPersistence)
	}
	n := len(s.vectors)
	out := make([]byte, 0, headerFixed+len(s.modelID)+n*(8+4*s.dim))
	out = append(out, magic...)
	out = binary.LittleEndian.AppendUint16(out, formatVersion)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(s.modelID)))
	out = append(out, s.modelID...)
	out = binary.LittleEndian.AppendUint32(out, uint32(s.dim))
	out = binary.LittleEndian.AppendUint32(out, uint32(n))
	out = binary.LittleEndian.AppendUint64(out, uint64(s.builtAt.UnixNano()))
	for i, vec := range s.vectors {
		out = binary.LittleEndian.AppendUint64(out, uint64(s.ids[i]))
		for _, v := range vec {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	}
	return out, nil
}

// UnmarshalBinary decodes data produced by MarshalBinary. The result has no
// corpus attached; use Restore to pair it with the documents it was built over.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	r := reader{data: data}
	if string(r.next(4)) != magic {
		return fmt.Errorf("%w: not a snapshot file", models.ErrPersistence)
	}
	if v := r.u16(); v != formatVersion {
		return fmt.Errorf("%w: unsupported snapshot version %d", models.ErrPersistence, v)
	}
	modelID := string(r.next(int(r.u16())))
	dim := int(r.u32())
	n := int(r.u32())
	builtAt := int64(r.u64())
	if r.err != nil {
		return fmt.Errorf("%w: truncated header", models.ErrPersistence)
	}
	if n > 0 && dim == 0 {
		return fmt.Errorf("%w: %d rows with zero dimension", models.ErrPersistence, n)
	}
	if want := n * (8 + 4*dim); len(data)-r.off != want {
		return fmt.Errorf("%w: payload is %d bytes, want %d", models.ErrPersistence, len(data)-r.off, want)
	}

	ids := make([]int64, n)
	vectors := make([][]float32, n)
	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		ids[i] = int64(r.u64())
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(r.u32())
		}
		vectors[i] = vec
		norms[i] = L2Norm(vec)
	}
	if r.err != nil {
		return fmt.Errorf("%w: truncated rows", models.ErrPersistence)
	}

	*s = Snapshot{
		ids:     ids,
		vectors: vectors,
		norms:   norms,
		modelID: modelID,
		dim:     dim,
		builtAt: time.Unix(0, builtAt).UTC(),
		origin:  OriginCache,
	}
	return nil
}

// Restore decodes data and attaches c. It fails with models.ErrPersistence when
// the encoded model or dimension differs from wantModel/wantDim, or when the
// encoded document ids do not match c in order.
func Restore(c *corpus.Corpus, data []byte, wantModel string, wantDim int) (*Snapshot, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: no corpus to restore against", models.ErrPersistence)
	}
	s := &Snapshot{}
	if err := s.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if s.modelID != wantModel {
		return nil, fmt.Errorf("%w: snapshot model %q, want %q", models.ErrPersistence, s.modelID, wantModel)
	}
	if s.Size() > 0 && s.dim != wantDim {
		return nil, fmt.Errorf("%w: snapshot dimension %d, want %d", models.ErrPersistence, s.dim, wantDim)
	}
	if s.Size() != c.Size() {
		return nil, fmt.Errorf("%w: snapshot has %d rows, corpus has %d", models.ErrPersistence, s.Size(), c.Size())
	}
	for i, id := range s.ids {
		if c.At(i).ID != id {
			return nil, fmt.Errorf("%w: row %d is document %d, corpus has %d", models.ErrPersistence, i, id, c.At(i).ID)
		}
	}
	s.corpus = c
	return s, nil
}

type reader struct {
	data []byte
	off  int
	err  error
}

var errShort = errors.New("short buffer")

func (r *reader) next(n int) []byte {
	if r.err != nil || n < 0 || r.off+n > len(r.data) {
		r.err = errShort
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u16() uint16 {
	if b := r.next(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.next(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.next(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}
