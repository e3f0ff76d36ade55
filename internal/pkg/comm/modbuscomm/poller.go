package modbuscomm

import (
	"context"
	"encoding/binary"
	"fmt"
	stdlog "log"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Handler opens and closes the transport under a modbus.Client.
type Handler interface {
	Connect() error
	Close() error
}

// Poller reads registers from one Modbus TCP target. Calls are serialized.
type Poller struct {
	mux     *sync.Mutex
	handler Handler
	client  modbus.Client
}

// PollerConfig is the configuration format for Poller
type PollerConfig struct {
	IPAddr       string        `json:"IPAddr" yaml:"ip_addr"`
	Port         string        `json:"Port" yaml:"port"`
	SlaveID      byte          `json:"SlaveID" yaml:"slave_id"`
	Timeout      time.Duration `json:"Timeout" yaml:"timeout"`
	EnableLogger bool          `json:"EnableLogger" yaml:"enable_logger"`
}

// NewPoller is a factory for the Poller struct
func NewPoller(cfg PollerConfig) *Poller {
	handler := modbus.NewTCPClientHandler(cfg.IPAddr + ":" + cfg.Port)
	handler.Timeout = cfg.Timeout
	handler.SlaveId = cfg.SlaveID
	if cfg.EnableLogger {
		handler.Logger = stdlog.New(log.StandardLogger().WriterLevel(log.DebugLevel), "[Modbus] ", 0)
	}
	return newPoller(handler, modbus.NewClient(handler))
}

func newPoller(handler Handler, client modbus.Client) *Poller {
	return &Poller{
		mux:     &sync.Mutex{},
		handler: handler,
		client:  client,
	}
}

// Read connects, reads every readable register and disconnects. Registers
// that fail are left out of the result and their errors combined.
func (p *Poller) Read(ctx context.Context, registers []Register) (map[string]float64, error) {
	p.mux.Lock()
	defer p.mux.Unlock()

	if err := p.handler.Connect(); err != nil {
		return nil, err
	}
	defer p.handler.Close()

	var err error
	values := make(map[string]float64)
	for _, register := range registers {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return values, multierr.Append(err, ctxErr)
		}
		if register.AccessType == WriteOnly {
			err = multierr.Append(err, fmt.Errorf("%w: %v", ErrAccessDenied, register.Name))
			continue
		}
		resp, readErr := p.read(register)
		if readErr != nil {
			err = multierr.Append(err, fmt.Errorf("read %v: %w", register.Name, readErr))
			continue
		}
		n, decodeErr := decode(resp, register)
		if decodeErr != nil {
			err = multierr.Append(err, decodeErr)
			continue
		}
		values[register.Name] = n * register.scale()
	}
	return values, err
}

func (p *Poller) read(register Register) ([]byte, error) {
	size := sizeOf(register.DataType)
	if size == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, register.DataType)
	}
	if register.FunctionCode == InputRegisters {
		return p.client.ReadInputRegisters(register.Address, size)
	}
	return p.client.ReadHoldingRegisters(register.Address, size)
}

// Write connects, writes each named value and disconnects.
func (p *Poller) Write(ctx context.Context, registers []Register, values map[string]float64) error {
	p.mux.Lock()
	defer p.mux.Unlock()

	if err := p.handler.Connect(); err != nil {
		return err
	}
	defer p.handler.Close()

	var err error
	for name, val := range values {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return multierr.Append(err, ctxErr)
		}
		i, findErr := findIndexByName(registers, name)
		if findErr != nil {
			err = multierr.Append(err, findErr)
			continue
		}
		register := registers[i]
		if register.AccessType == ReadOnly {
			err = multierr.Append(err, fmt.Errorf("%w: %v", ErrAccessDenied, name))
			continue
		}
		b, encodeErr := encode(val/register.scale(), register)
		if encodeErr != nil {
			err = multierr.Append(err, encodeErr)
			continue
		}
		if _, writeErr := p.client.WriteMultipleRegisters(register.Address, sizeOf(register.DataType), b); writeErr != nil {
			err = multierr.Append(err, fmt.Errorf("write %v: %w", name, writeErr))
		}
	}
	return err
}

// findIndexByName returns the index in the array of the register, if found.
func findIndexByName(registers []Register, name string) (int, error) {
	for index, register := range registers {
		if register.Name == name {
			return index, nil
		}
	}
	return -1, fmt.Errorf("%w: %v", ErrUnknownRegister, name)
}

// encode converts a float64 into register bytes
func encode(val float64, register Register) ([]byte, error) {
	size := sizeOf(register.DataType)
	if size == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, register.DataType)
	}
	b := make([]byte, 2*size)
	endian := byteOrder(register.Endianness)
	switch register.DataType {
	case U16:
		endian.PutUint16(b, uint16(val))
	case I16:
		endian.PutUint16(b, uint16(int16(val)))
	case U32:
		endian.PutUint32(b, uint32(val))
	case I32:
		endian.PutUint32(b, uint32(int32(val)))
	case F32:
		endian.PutUint32(b, math.Float32bits(float32(val)))
	case U64:
		endian.PutUint64(b, uint64(val))
	case I64:
		endian.PutUint64(b, uint64(int64(val)))
	case F64:
		endian.PutUint64(b, math.Float64bits(val))
	}
	return b, nil
}

// decode converts register bytes into a float64
func decode(b []byte, register Register) (float64, error) {
	size := sizeOf(register.DataType)
	if size == 0 {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedType, register.DataType)
	}
	if len(b) < int(2*size) {
		return 0, fmt.Errorf("modbuscomm: short response for %v: %d bytes", register.Name, len(b))
	}
	endian := byteOrder(register.Endianness)
	switch register.DataType {
	case U16:
		return float64(endian.Uint16(b)), nil
	case I16:
		return float64(int16(endian.Uint16(b))), nil
	case U32:
		return float64(endian.Uint32(b)), nil
	case I32:
		return float64(int32(endian.Uint32(b))), nil
	case F32:
		return float64(math.Float32frombits(endian.Uint32(b))), nil
	case U64:
		return float64(endian.Uint64(b)), nil
	case I64:
		return float64(int64(endian.Uint64(b))), nil
	}
	return math.Float64frombits(endian.Uint64(b)), nil
}

func byteOrder(e Endian) binary.ByteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// sizeOf returns the number of u16 registers for the datatype
func sizeOf(t DataType) uint16 {
	switch t {
	case U16, I16:
		return 1
	case U32, I32, F32:
		return 2
	case U64, I64, F64:
		return 4
	}
	return 0
}
