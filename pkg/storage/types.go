package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Gid is a globally unique identifier for a graph element within one worker
type Gid uint64

// Address locates a graph element in the cluster: the element's id plus
// the id of the worker that owns it.
type Address struct {
	Gid      Gid `json:"gid"`
	WorkerID int `json:"worker_id"`
}

// IsLocal reports whether the address belongs to the given worker
func (a Address) IsLocal(workerID int) bool {
	return a.WorkerID == workerID
}

func (a Address) String() string {
	return fmt.Sprintf("%d@%d", a.Gid, a.WorkerID)
}

// ValueType represents the type of a property value
type ValueType uint8

const (
	TypeString ValueType = iota
	TypeInt
	TypeFloat
	TypeBool
)

// Value represents a typed property value
type Value struct {
	Type ValueType `json:"type"`
	Data []byte    `json:"data"`
}

// Helper functions to create typed values
func StringValue(s string) Value {
	return Value{Type: TypeString, Data: []byte(s)}
}

func IntValue(i int64) Value {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(i))
	return Value{Type: TypeInt, Data: data}
}

func FloatValue(f float64) Value {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, math.Float64bits(f))
	return Value{Type: TypeFloat, Data: data}
}

func BoolValue(b bool) Value {
	data := []byte{0}
	if b {
		data[0] = 1
	}
	return Value{Type: TypeBool, Data: data}
}

// Decode methods
func (v Value) AsString() (string, error) {
	if v.Type != TypeString {
		return "", fmt.Errorf("value is not a string")
	}
	return string(v.Data), nil
}

func (v Value) AsInt() (int64, error) {
	if v.Type != TypeInt {
		return 0, fmt.Errorf("value is not an int")
	}
	return int64(binary.LittleEndian.Uint64(v.Data)), nil
}

func (v Value) AsFloat() (float64, error) {
	if v.Type != TypeFloat {
		return 0, fmt.Errorf("value is not a float")
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v.Data)), nil
}

func (v Value) AsBool() (bool, error) {
	if v.Type != TypeBool {
		return false, fmt.Errorf("value is not a bool")
	}
	return v.Data[0] == 1, nil
}

// Equal reports whether two values have the same type and payload
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type || len(v.Data) != len(other.Data) {
		return false
	}
	for i := range v.Data {
		if v.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

// EdgeEntry is one adjacency-list slot on a vertex: the neighbouring
// vertex, the edge record connecting them and the edge type.
type EdgeEntry struct {
	Vertex   Address `json:"vertex"`
	Edge     Address `json:"edge"`
	EdgeType string  `json:"edge_type"`
}
