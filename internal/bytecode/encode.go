package bytecode

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/octofhir/otter-sub002/internal/ic"
	"github.com/octofhir/otter-sub002/internal/otterrors"
)

// Wire format (spec.md §6): magic, version header; tag-prefixed constant
// pool entries; a function table (param/local/register counts, feedback
// size, instruction stream); import/export tables; entry function index.
// Each instruction is an opcode byte followed by one fixed little-endian
// operand layout shared by every opcode (Dst, SrcA, SrcB, ImmI8, ImmI32,
// ConstIdx, LocalIdx, UpvalIdx, FuncIdx, JumpOffset, ArgCount, ICIndex), so
// the decode is unambiguous. The layout is not opcode-specific: operands an
// opcode does not use are still written.

const (
	magic          uint32 = 0x4F545452 // "OTTR"
	formatVersion  uint16 = 1
)

// Encode serializes a Module to its on-disk representation.
func Encode(m *Module) ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, magic)
	binary.Write(&buf, binary.LittleEndian, formatVersion)

	binary.Write(&buf, binary.LittleEndian, uint32(len(m.ConstPool)))
	for _, c := range m.ConstPool {
		buf.WriteByte(byte(c.Kind))
		switch c.Kind {
		case ConstNumber:
			binary.Write(&buf, binary.LittleEndian, c.Number)
		case ConstString, ConstRegex:
			s := c.Str
			if c.Kind == ConstRegex {
				s = c.Regex
			}
			binary.Write(&buf, binary.LittleEndian, uint32(len(s)))
			buf.WriteString(s)
		case ConstFunction:
			binary.Write(&buf, binary.LittleEndian, c.FnIdx)
		}
	}

	binary.Write(&buf, binary.LittleEndian, uint32(len(m.Functions)))
	for _, f := range m.Functions {
		writeFunction(&buf, f)
	}

	binary.Write(&buf, binary.LittleEndian, uint32(len(m.Imports)))
	for _, im := range m.Imports {
		writeString(&buf, im.Specifier)
		writeString(&buf, im.LocalName)
		writeString(&buf, im.ImportName)
	}

	binary.Write(&buf, binary.LittleEndian, uint32(len(m.Exports)))
	for _, ex := range m.Exports {
		writeString(&buf, ex.LocalName)
		writeString(&buf, ex.ExportName)
	}

	var isESM uint8
	if m.IsESM {
		isESM = 1
	}
	buf.WriteByte(isESM)
	binary.Write(&buf, binary.LittleEndian, uint32(m.EntryFunc))

	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func writeFunction(buf *bytes.Buffer, f *Function) {
	writeString(buf, f.Name)
	binary.Write(buf, binary.LittleEndian, uint32(f.ParamCount))
	binary.Write(buf, binary.LittleEndian, uint32(f.LocalCount))
	binary.Write(buf, binary.LittleEndian, uint32(f.RegisterCount))
	binary.Write(buf, binary.LittleEndian, uint32(len(f.Feedback)))
	binary.Write(buf, binary.LittleEndian, uint32(len(f.Instructions)))
	for _, ins := range f.Instructions {
		writeInstruction(buf, ins)
	}
}

func writeInstruction(buf *bytes.Buffer, ins Instruction) {
	buf.WriteByte(byte(ins.Op))
	buf.WriteByte(ins.Dst)
	buf.WriteByte(ins.SrcA)
	buf.WriteByte(ins.SrcB)
	buf.WriteByte(byte(ins.ImmI8))
	binary.Write(buf, binary.LittleEndian, ins.ImmI32)
	binary.Write(buf, binary.LittleEndian, ins.ConstIdx)
	binary.Write(buf, binary.LittleEndian, ins.LocalIdx)
	binary.Write(buf, binary.LittleEndian, ins.UpvalIdx)
	binary.Write(buf, binary.LittleEndian, ins.FuncIdx)
	binary.Write(buf, binary.LittleEndian, ins.JumpOffset)
	buf.WriteByte(ins.ArgCount)
	binary.Write(buf, binary.LittleEndian, ins.ICIndex)
}

// Decode deserializes a Module previously produced by Encode. Round-tripping
// Encode/Decode must reproduce an equal Module (spec.md §8 round-trip
// property).
func Decode(data []byte) (*Module, error) {
	r := bytes.NewReader(data)

	var gotMagic uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil || gotMagic != magic {
		return nil, otterrors.New(otterrors.CompileError, "invalid module magic")
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, otterrors.New(otterrors.CompileError, "unsupported module format version")
	}

	m := NewModule()

	var constCount uint32
	binary.Read(r, binary.LittleEndian, &constCount)
	for i := uint32(0); i < constCount; i++ {
		kb, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		c := Const{Kind: ConstKind(kb)}
		switch c.Kind {
		case ConstNumber:
			binary.Read(r, binary.LittleEndian, &c.Number)
		case ConstString:
			c.Str, err = readString(r)
			if err != nil {
				return nil, err
			}
		case ConstRegex:
			c.Regex, err = readString(r)
			if err != nil {
				return nil, err
			}
		case ConstFunction:
			binary.Read(r, binary.LittleEndian, &c.FnIdx)
		}
		m.ConstPool = append(m.ConstPool, c)
	}

	var fnCount uint32
	binary.Read(r, binary.LittleEndian, &fnCount)
	for i := uint32(0); i < fnCount; i++ {
		f, err := readFunction(r)
		if err != nil {
			return nil, err
		}
		m.Functions = append(m.Functions, f)
	}

	var importCount uint32
	binary.Read(r, binary.LittleEndian, &importCount)
	for i := uint32(0); i < importCount; i++ {
		var im ImportRecord
		var err error
		if im.Specifier, err = readString(r); err != nil {
			return nil, err
		}
		if im.LocalName, err = readString(r); err != nil {
			return nil, err
		}
		if im.ImportName, err = readString(r); err != nil {
			return nil, err
		}
		m.Imports = append(m.Imports, im)
	}

	var exportCount uint32
	binary.Read(r, binary.LittleEndian, &exportCount)
	for i := uint32(0); i < exportCount; i++ {
		var ex ExportRecord
		var err error
		if ex.LocalName, err = readString(r); err != nil {
			return nil, err
		}
		if ex.ExportName, err = readString(r); err != nil {
			return nil, err
		}
		m.Exports = append(m.Exports, ex)
	}

	isESM, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	m.IsESM = isESM == 1

	var entry uint32
	binary.Read(r, binary.LittleEndian, &entry)
	m.EntryFunc = int(entry)

	return m, nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readFunction(r *bytes.Reader) (*Function, error) {
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	var params, locals, registers, feedbackLen, insCount uint32
	binary.Read(r, binary.LittleEndian, &params)
	binary.Read(r, binary.LittleEndian, &locals)
	binary.Read(r, binary.LittleEndian, &registers)
	binary.Read(r, binary.LittleEndian, &feedbackLen)
	binary.Read(r, binary.LittleEndian, &insCount)

	f := NewFunction(name, int(params), int(locals), int(registers))
	f.Feedback = make([]FeedbackSlot, feedbackLen)
	f.PropCaches = make([]ic.PropertyCache, feedbackLen)
	for i := uint32(0); i < insCount; i++ {
		ins, err := readInstruction(r)
		if err != nil {
			return nil, err
		}
		f.Instructions = append(f.Instructions, ins)
	}
	return f, nil
}

func readInstruction(r *bytes.Reader) (Instruction, error) {
	var ins Instruction
	opb, err := r.ReadByte()
	if err != nil {
		return ins, err
	}
	ins.Op = Opcode(opb)

	fields := []*uint8{&ins.Dst, &ins.SrcA, &ins.SrcB}
	for _, f := range fields {
		b, err := r.ReadByte()
		if err != nil {
			return ins, err
		}
		*f = b
	}
	imm8, err := r.ReadByte()
	if err != nil {
		return ins, err
	}
	ins.ImmI8 = int8(imm8)

	if err := binary.Read(r, binary.LittleEndian, &ins.ImmI32); err != nil {
		return ins, err
	}
	if err := binary.Read(r, binary.LittleEndian, &ins.ConstIdx); err != nil {
		return ins, err
	}
	if err := binary.Read(r, binary.LittleEndian, &ins.LocalIdx); err != nil {
		return ins, err
	}
	if err := binary.Read(r, binary.LittleEndian, &ins.UpvalIdx); err != nil {
		return ins, err
	}
	if err := binary.Read(r, binary.LittleEndian, &ins.FuncIdx); err != nil {
		return ins, err
	}
	if err := binary.Read(r, binary.LittleEndian, &ins.JumpOffset); err != nil {
		return ins, err
	}
	argc, err := r.ReadByte()
	if err != nil {
		return ins, err
	}
	ins.ArgCount = argc
	if err := binary.Read(r, binary.LittleEndian, &ins.ICIndex); err != nil {
		return ins, err
	}
	return ins, nil
}
