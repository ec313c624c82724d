package delta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dd0wney/cluso-cluster/pkg/storage"
)

// Binary layout, little-endian:
// [Kind:1][TxID:8][VertexID:8][EdgeID:8][CheckEmpty:1]
// [Property:str][Label:str][EdgeType:str]
// [Value: type:1 len:4 data:N]
// [FromAddr: gid:8 worker:8][ToAddr: gid:8 worker:8][EdgeAddr: gid:8 worker:8]
// Strings are length-prefixed with uint32.

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeAddress(w io.Writer, a storage.Address) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(a.Gid)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, int64(a.WorkerID))
}

func readAddress(r io.Reader) (storage.Address, error) {
	var gid uint64
	var worker int64
	if err := binary.Read(r, binary.LittleEndian, &gid); err != nil {
		return storage.Address{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &worker); err != nil {
		return storage.Address{}, err
	}
	return storage.Address{Gid: storage.Gid(gid), WorkerID: int(worker)}, nil
}

// Encode writes the delta's binary form to w
func (d StateDelta) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint8(d.Kind)); err != nil {
		return err
	}
	for _, v := range []uint64{d.TxID, uint64(d.VertexID), uint64(d.EdgeID)} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	check := byte(0)
	if d.CheckEmpty {
		check = 1
	}
	if _, err := w.Write([]byte{check}); err != nil {
		return err
	}
	for _, s := range []string{d.Property, d.Label, d.EdgeType} {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(d.Value.Type)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(d.Value.Data))); err != nil {
		return err
	}
	if _, err := w.Write(d.Value.Data); err != nil {
		return err
	}
	for _, a := range []storage.Address{d.VertexFromAddress, d.VertexToAddress, d.EdgeAddress} {
		if err := writeAddress(w, a); err != nil {
			return err
		}
	}
	return nil
}

// Marshal returns the delta's binary form
func (d StateDelta) Marshal() []byte {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer cannot fail.
	_ = d.Encode(&buf)
	return buf.Bytes()
}

// Decode reads one delta from r
func Decode(r io.Reader) (StateDelta, error) {
	var d StateDelta

	var kind uint8
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return d, err
	}
	d.Kind = Kind(kind)

	var txID, vertexID, edgeID uint64
	for _, p := range []*uint64{&txID, &vertexID, &edgeID} {
		if err := binary.Read(r, binary.LittleEndian, p); err != nil {
			return d, err
		}
	}
	d.TxID = txID
	d.VertexID = storage.Gid(vertexID)
	d.EdgeID = storage.Gid(edgeID)

	var check [1]byte
	if _, err := io.ReadFull(r, check[:]); err != nil {
		return d, err
	}
	d.CheckEmpty = check[0] == 1

	for _, p := range []*string{&d.Property, &d.Label, &d.EdgeType} {
		s, err := readString(r)
		if err != nil {
			return d, err
		}
		*p = s
	}

	var valueType uint8
	if err := binary.Read(r, binary.LittleEndian, &valueType); err != nil {
		return d, err
	}
	var valueLen uint32
	if err := binary.Read(r, binary.LittleEndian, &valueLen); err != nil {
		return d, err
	}
	data := make([]byte, valueLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return d, err
	}
	d.Value = storage.Value{Type: storage.ValueType(valueType), Data: data}

	for _, p := range []*storage.Address{&d.VertexFromAddress, &d.VertexToAddress, &d.EdgeAddress} {
		a, err := readAddress(r)
		if err != nil {
			return d, err
		}
		*p = a
	}
	return d, nil
}

// Unmarshal parses a delta from its binary form
func Unmarshal(data []byte) (StateDelta, error) {
	buf := bytes.NewReader(data)
	d, err := Decode(buf)
	if err != nil {
		return d, err
	}
	if buf.Len() != 0 {
		return d, fmt.Errorf("trailing bytes after delta: %d", buf.Len())
	}
	return d, nil
}
