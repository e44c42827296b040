package bytecode

// Opcode enumerates Otter's register-machine instruction set (spec.md §4.4).
type Opcode uint8

const (
	OpNop Opcode = iota

	// Constant loads
	OpLoadUndefined
	OpLoadNull
	OpLoadTrue
	OpLoadFalse
	OpLoadInt8
	OpLoadInt32
	OpLoadConst

	// Variable access
	OpGetLocal
	OpSetLocal
	OpGetUpvalue
	OpSetUpvalue
	OpGetGlobal
	OpSetGlobal
	OpLoadThis
	OpCloseUpvalue

	// Arithmetic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpNeg
	OpInc
	OpDec

	// Type-specialized fast paths
	OpAddI32
	OpSubI32
	OpMulI32
	OpDivI32
	OpAddF64
	OpSubF64
	OpMulF64
	OpDivF64

	// Bitwise and shifts
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNot
	OpShl
	OpShr
	OpUShr

	// Comparisons
	OpEq
	OpStrictEq
	OpNe
	OpStrictNe
	OpLt
	OpLe
	OpGt
	OpGe

	// Logical and type-query
	OpNot
	OpTypeOf
	OpTypeOfName
	OpInstanceOf
	OpIn
	OpToNumber
	OpRequireCoercible

	// Object and array ops
	OpGetProp
	OpSetProp
	OpGetPropConst
	OpSetPropConst
	OpDefineProperty
	OpDefineGetter
	OpDefineSetter
	OpNewObject
	OpNewArray
	OpGetElem
	OpSetElem
	OpSpread
	OpDeleteProp

	// Calls
	OpClosure
	OpCall
	OpCallMethod
	OpCallMethodComputed
	OpCallWithReceiver
	OpCallSpread
	OpConstructSpread
	OpTailCall
	OpConstruct
	OpCreateArguments
	OpCallEval

	// Control flow
	OpJump
	OpJumpIfTrue
	OpJumpIfFalse
	OpJumpIfNullish
	OpJumpIfNotNullish

	// Exceptions
	OpTryStart
	OpTryEnd
	OpThrow
	OpCatch

	// Iteration
	OpGetIterator
	OpGetAsyncIterator
	OpIteratorNext
	OpForInNext

	// Class and super
	OpDefineClass
	OpGetSuper
	OpCallSuper
	OpGetSuperProp
	OpSetHomeObject

	// Generator/async
	OpYield
	OpAwait
	OpAsyncClosure
	OpGeneratorClosure
	OpAsyncGeneratorClosure

	// Misc
	OpMove
	OpPop
	OpDup
	OpDebugger

	// Modules
	OpImport
	OpExport

	// Return
	OpReturn

	opcodeCount
)

var opcodeNames = [...]string{
	OpNop: "Nop", OpLoadUndefined: "LoadUndefined", OpLoadNull: "LoadNull",
	OpLoadTrue: "LoadTrue", OpLoadFalse: "LoadFalse", OpLoadInt8: "LoadInt8",
	OpLoadInt32: "LoadInt32", OpLoadConst: "LoadConst", OpGetLocal: "GetLocal",
	OpSetLocal: "SetLocal", OpGetUpvalue: "GetUpvalue", OpSetUpvalue: "SetUpvalue",
	OpGetGlobal: "GetGlobal", OpSetGlobal: "SetGlobal", OpLoadThis: "LoadThis",
	OpCloseUpvalue: "CloseUpvalue", OpAdd: "Add", OpSub: "Sub", OpMul: "Mul",
	OpDiv: "Div", OpMod: "Mod", OpPow: "Pow", OpNeg: "Neg", OpInc: "Inc", OpDec: "Dec",
	OpAddI32: "AddI32", OpSubI32: "SubI32", OpMulI32: "MulI32", OpDivI32: "DivI32",
	OpAddF64: "AddF64", OpSubF64: "SubF64", OpMulF64: "MulF64", OpDivF64: "DivF64",
	OpBitAnd: "BitAnd", OpBitOr: "BitOr", OpBitXor: "BitXor", OpBitNot: "BitNot",
	OpShl: "Shl", OpShr: "Shr", OpUShr: "UShr", OpEq: "Eq", OpStrictEq: "StrictEq",
	OpNe: "Ne", OpStrictNe: "StrictNe", OpLt: "Lt", OpLe: "Le", OpGt: "Gt", OpGe: "Ge",
	OpNot: "Not", OpTypeOf: "TypeOf", OpTypeOfName: "TypeOfName", OpInstanceOf: "InstanceOf",
	OpIn: "In", OpToNumber: "ToNumber", OpRequireCoercible: "RequireCoercible",
	OpGetProp: "GetProp", OpSetProp: "SetProp", OpGetPropConst: "GetPropConst",
	OpSetPropConst: "SetPropConst", OpDefineProperty: "DefineProperty",
	OpDefineGetter: "DefineGetter", OpDefineSetter: "DefineSetter", OpNewObject: "NewObject",
	OpNewArray: "NewArray", OpGetElem: "GetElem", OpSetElem: "SetElem", OpSpread: "Spread",
	OpDeleteProp: "DeleteProp", OpClosure: "Closure", OpCall: "Call",
	OpCallMethod: "CallMethod", OpCallMethodComputed: "CallMethodComputed",
	OpCallWithReceiver: "CallWithReceiver", OpCallSpread: "CallSpread",
	OpConstructSpread: "ConstructSpread", OpTailCall: "TailCall", OpConstruct: "Construct",
	OpCreateArguments: "CreateArguments", OpCallEval: "CallEval", OpJump: "Jump",
	OpJumpIfTrue: "JumpIfTrue", OpJumpIfFalse: "JumpIfFalse", OpJumpIfNullish: "JumpIfNullish",
	OpJumpIfNotNullish: "JumpIfNotNullish", OpTryStart: "TryStart", OpTryEnd: "TryEnd",
	OpThrow: "Throw", OpCatch: "Catch", OpGetIterator: "GetIterator",
	OpGetAsyncIterator: "GetAsyncIterator", OpIteratorNext: "IteratorNext",
	OpForInNext: "ForInNext", OpDefineClass: "DefineClass", OpGetSuper: "GetSuper",
	OpCallSuper: "CallSuper", OpGetSuperProp: "GetSuperProp", OpSetHomeObject: "SetHomeObject",
	OpYield: "Yield", OpAwait: "Await", OpAsyncClosure: "AsyncClosure",
	OpGeneratorClosure: "GeneratorClosure", OpAsyncGeneratorClosure: "AsyncGeneratorClosure",
	OpMove: "Move", OpPop: "Pop", OpDup: "Dup", OpDebugger: "Debugger",
	OpImport: "Import", OpExport: "Export", OpReturn: "Return",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return "Unknown"
}

// IsCacheBearing reports whether this opcode carries a feedback-vector
// slot index (spec.md §4.4 "cache-bearing operations").
func (op Opcode) IsCacheBearing() bool {
	switch op {
	case OpGetProp, OpSetProp, OpGetPropConst, OpSetPropConst, OpGetGlobal, OpSetGlobal,
		OpCallMethod, OpCallMethodComputed, OpAdd, OpSub, OpMul, OpDiv:
		return true
	default:
		return false
	}
}
