// Package modbuscomm reads and writes device registers over Modbus TCP.
package modbuscomm

import (
	"context"
	"errors"
)

var (
	// ErrUnknownRegister is returned when a write names a register that is not declared.
	ErrUnknownRegister = errors.New("modbuscomm: register name not found")
	// ErrUnsupportedType is returned for a register with an unknown data type.
	ErrUnsupportedType = errors.New("modbuscomm: unsupported data type")
	// ErrAccessDenied is returned when a register's access forbids the operation.
	ErrAccessDenied = errors.New("modbuscomm: register access forbids operation")
)

// ModbusComm reads and writes a set of registers by name.
type ModbusComm interface {
	Read(context.Context, []Register) (map[string]float64, error)
	Write(context.Context, []Register, map[string]float64) error
}

// DataType defines the type of Modbus register for encoding/decoding
type DataType string

// Constants of DataType
const (
	U16 DataType = "u16"
	U32 DataType = "u32"
	U64 DataType = "u64"
	I16 DataType = "i16"
	I32 DataType = "i32"
	I64 DataType = "i64"
	F32 DataType = "f32"
	F64 DataType = "f64"
)

// Access is the register read/write type
type Access string

// Constants of Access
const (
	ReadOnly  Access = "read-only"
	WriteOnly Access = "write-only"
	ReadWrite Access = "read-write"
)

// Endian byte order of Modbus register for encoding/decoding
type Endian string

// Constants of Endian
const (
	LittleEndian Endian = "little"
	BigEndian    Endian = "big"
)

// Function codes for register reads.
const (
	HoldingRegisters = 3
	InputRegisters   = 4
)

// Register contains the data required to read and write a Modbus register.
// A zero Scale reads as 1.
type Register struct {
	Name         string   `json:"Name" yaml:"name"`
	Address      uint16   `json:"Address" yaml:"address"`
	DataType     DataType `json:"DataType" yaml:"data_type"`
	FunctionCode int      `json:"FunctionCode" yaml:"function_code"`
	AccessType   Access   `json:"Access" yaml:"access"`
	Endianness   Endian   `json:"Endianness" yaml:"endianness"`
	Scale        float64  `json:"Scale" yaml:"scale"`
}

func (r Register) scale() float64 {
	if r.Scale == 0 {
		return 1
	}
	return r.Scale
}

// FilterRegisters returns registers from array with matching access type
func FilterRegisters(r []Register, a Access) []Register {
	filtered := make([]Register, 0)
	for _, reg := range r {
		if reg.AccessType == a || reg.AccessType == ReadWrite {
			filtered = append(filtered, reg)
		}
	}
	return filtered
}
