// Copyright 2020 MPI-SWS and Valentin Wuestholz

// This file is part of Husk.
//
// Husk is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Husk is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Husk.  If not, see <https://www.gnu.org/licenses/>.

package vm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
)

// maxCopySize caps CALLDATACOPY; a prologue never copies large blobs, so
// anything bigger means we have left it.
const maxCopySize = 256

// maxMemOffset caps the addressable scratch memory. Real prologues stay in
// the first few hundred bytes; an offset beyond this ends the analysis
// instead of growing the backing store without bound.
const maxMemOffset = 1 << 20

// TraceRecord is the observation Step returns for one executed opcode:
// the opcode, the gas charged, and the tagged operands it popped, in pop
// order. Operand arity varies by opcode group: the binary
// arithmetic/comparison/bitwise ops other than SLT and SGT report both
// operands, ISZERO and
// CALLDATALOAD report one, SIGNEXTEND reports the width and the operand,
// and the rest report none. Records are observations only; feeding one
// back to the VM causes nothing.
type TraceRecord struct {
	Op       OpCode
	Gas      uint64
	Operands []Word
	// MemAligned is set by MLOAD when the load hit an offset an earlier
	// write started at.
	MemAligned bool
}

// executionFunc runs one opcode against the VM and reports the trace.
type executionFunc func(evm *VM) (TraceRecord, error)

type operation struct {
	execute executionFunc
	valid   bool
}

// JumpTable maps opcode bytes to their operations.
type JumpTable [256]operation

var prologueInstructionSet = newPrologueInstructionSet()

// VM interprets the argument-decoding prologue of a single function. One
// instance serves one (code, calldata) pair and is discarded once Stopped
// or once Step returns an error.
type VM struct {
	Code     []byte
	PC       uint64
	Stack    *Stack
	Mem      *Memory
	CallData CallData
	Stopped  bool

	jt *JumpTable
}

func NewVM(code []byte, calldata CallData) *VM {
	return &VM{
		Code:     code,
		Stack:    NewStack(),
		Mem:      NewMemory(),
		CallData: calldata,
		jt:       &prologueInstructionSet,
	}
}

// CurrentOp returns the opcode at the program counter.
func (evm *VM) CurrentOp() OpCode {
	if uint64(len(evm.Code)) <= evm.PC {
		return STOP
	}
	return OpCode(evm.Code[evm.PC])
}

// Step executes the opcode at PC and returns its trace record. After the
// step, PC has advanced past the opcode and any PUSH immediate unless the
// opcode was a jump; running
// off the end of the code sets Stopped. Opcodes outside the prologue
// subset return an UnsupportedOpError, the normal end of an analysis.
func (evm *VM) Step() (TraceRecord, error) {
	if evm.Stopped || uint64(len(evm.Code)) <= evm.PC {
		evm.Stopped = true
		return TraceRecord{}, nil
	}
	op := OpCode(evm.Code[evm.PC])
	oper := evm.jt[op]
	if !oper.valid {
		return TraceRecord{Op: op}, &UnsupportedOpError{Op: op}
	}
	rec, err := oper.execute(evm)
	rec.Op = op
	if err != nil {
		return rec, err
	}
	if op != JUMP && op != JUMPI {
		evm.PC++
	}
	if uint64(len(evm.Code)) <= evm.PC {
		evm.Stopped = true
	}
	return rec, nil
}

// Clone does a deep copy of the interpreter state. Code and calldata are
// shared; both are immutable.
func (evm *VM) Clone() *VM {
	return &VM{
		Code:     evm.Code,
		PC:       evm.PC,
		Stack:    evm.Stack.Clone(),
		Mem:      evm.Mem.Clone(),
		CallData: evm.CallData,
		Stopped:  evm.Stopped,
		jt:       evm.jt,
	}
}

func (evm *VM) String() string {
	return strings.Join([]string{
		"Vm:",
		fmt.Sprintf(" .pc = %#x | %v", evm.PC, evm.CurrentOp()),
		fmt.Sprintf(" .stack = %v", evm.Stack),
		fmt.Sprintf(" .memory = %v", evm.Mem),
	}, "\n")
}

func newPrologueInstructionSet() JumpTable {
	var jt JumpTable

	jt[ADD] = operation{execute: makeBinOp(GasFastestStep, func(s0, s1 *big.Int, _, _ Word) *big.Int {
		return new(big.Int).Add(s0, s1)
	}), valid: true}
	jt[SUB] = operation{execute: makeBinOp(GasFastestStep, func(s0, s1 *big.Int, _, _ Word) *big.Int {
		return new(big.Int).Sub(s0, s1)
	}), valid: true}
	jt[MUL] = operation{execute: makeBinOp(GasFastStep, func(s0, s1 *big.Int, _, _ Word) *big.Int {
		return new(big.Int).Mul(s0, s1)
	}), valid: true}
	jt[DIV] = operation{execute: makeBinOp(GasFastStep, func(s0, s1 *big.Int, _, _ Word) *big.Int {
		if s1.Sign() == 0 {
			return new(big.Int)
		}
		return new(big.Int).Div(s0, s1)
	}), valid: true}
	jt[EXP] = operation{execute: opExp, valid: true}
	jt[EQ] = operation{execute: makeBinOp(GasFastestStep, func(s0, s1 *big.Int, _, _ Word) *big.Int {
		return boolWord(s0.Cmp(s1) == 0)
	}), valid: true}
	jt[LT] = operation{execute: makeBinOp(GasFastestStep, func(s0, s1 *big.Int, _, _ Word) *big.Int {
		return boolWord(s0.Cmp(s1) < 0)
	}), valid: true}
	jt[GT] = operation{execute: makeBinOp(GasFastestStep, func(s0, s1 *big.Int, _, _ Word) *big.Int {
		return boolWord(s0.Cmp(s1) > 0)
	}), valid: true}
	jt[XOR] = operation{execute: makeBinOp(GasFastestStep, func(s0, s1 *big.Int, _, _ Word) *big.Int {
		return new(big.Int).Xor(s0, s1)
	}), valid: true}
	jt[AND] = operation{execute: makeBinOp(GasFastestStep, func(s0, s1 *big.Int, _, _ Word) *big.Int {
		return new(big.Int).And(s0, s1)
	}), valid: true}
	jt[OR] = operation{execute: makeBinOp(GasFastestStep, func(s0, s1 *big.Int, _, _ Word) *big.Int {
		return new(big.Int).Or(s0, s1)
	}), valid: true}
	jt[SHR] = operation{execute: makeBinOp(GasFastestStep, func(s0, s1 *big.Int, _, _ Word) *big.Int {
		if s0.Cmp(big256) >= 0 {
			return new(big.Int)
		}
		return new(big.Int).Rsh(s1, uint(s0.Uint64()))
	}), valid: true}
	jt[SHL] = operation{execute: makeBinOp(GasFastestStep, func(s0, s1 *big.Int, _, _ Word) *big.Int {
		if s0.Cmp(big256) >= 0 {
			return new(big.Int)
		}
		return new(big.Int).Lsh(s1, uint(s0.Uint64()))
	}), valid: true}
	jt[BYTE] = operation{execute: makeBinOp(GasFastestStep, func(s0, _ *big.Int, _, raw1 Word) *big.Int {
		if !s0.IsUint64() || 32 <= s0.Uint64() {
			return new(big.Int)
		}
		return big.NewInt(int64(raw1.Bytes()[s0.Uint64()]))
	}), valid: true}

	jt[SLT] = operation{execute: makeSignedCmp(-1), valid: true}
	jt[SGT] = operation{execute: makeSignedCmp(1), valid: true}

	jt[ISZERO] = operation{execute: opIszero, valid: true}
	jt[NOT] = operation{execute: opNot, valid: true}
	jt[SIGNEXTEND] = operation{execute: opSignextend, valid: true}

	jt[POP] = operation{execute: opPop, valid: true}
	jt[CALLVALUE] = operation{execute: opCallvalue, valid: true}
	jt[ADDRESS] = operation{execute: opAddress, valid: true}

	jt[CALLDATALOAD] = operation{execute: opCalldataload, valid: true}
	jt[CALLDATASIZE] = operation{execute: opCalldatasize, valid: true}
	jt[CALLDATACOPY] = operation{execute: opCalldatacopy, valid: true}

	jt[MLOAD] = operation{execute: opMload, valid: true}
	jt[MSTORE] = operation{execute: opMstore, valid: true}

	jt[JUMP] = operation{execute: opJump, valid: true}
	jt[JUMPI] = operation{execute: opJumpi, valid: true}
	jt[JUMPDEST] = operation{execute: opJumpdest, valid: true}
	jt[REVERT] = operation{execute: opRevert, valid: true}

	for i := 0; i <= 32; i++ {
		jt[PUSH0+OpCode(i)] = operation{execute: makePush(uint64(i)), valid: true}
	}
	for i := 1; i <= 16; i++ {
		jt[DUP1+OpCode(i-1)] = operation{execute: makeDup(i), valid: true}
		jt[SWAP1+OpCode(i-1)] = operation{execute: makeSwap(i), valid: true}
	}
	return jt
}

var (
	big256   = big.NewInt(256)
	bigOne   = big.NewInt(1)
	big2e256 = new(big.Int).Lsh(big.NewInt(1), 256)
)

func boolWord(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return new(big.Int)
}

// makeBinOp builds the shared pop-pop-compute-push shape of the binary
// ops. The popped words are reported in the trace in pop order.
func makeBinOp(gas uint64, fn func(s0, s1 *big.Int, raw0, raw1 Word) *big.Int) executionFunc {
	return func(evm *VM) (TraceRecord, error) {
		raw0, err := evm.Stack.Pop()
		if err != nil {
			return TraceRecord{}, err
		}
		raw1, err := evm.Stack.Pop()
		if err != nil {
			return TraceRecord{}, err
		}
		res := fn(wordToUint(raw0), wordToUint(raw1), raw0, raw1)
		if err := evm.Stack.PushUint(res); err != nil {
			return TraceRecord{}, err
		}
		return TraceRecord{Gas: gas, Operands: []Word{raw0, raw1}}, nil
	}
}

func opExp(evm *VM) (TraceRecord, error) {
	raw0, err := evm.Stack.Pop()
	if err != nil {
		return TraceRecord{}, err
	}
	raw1, err := evm.Stack.Pop()
	if err != nil {
		return TraceRecord{}, err
	}
	base, exponent := wordToUint(raw0), wordToUint(raw1)
	if err := evm.Stack.PushUint(math.Exp(base, exponent)); err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord{Gas: gasExp(exponent), Operands: []Word{raw0, raw1}}, nil
}

func makeSignedCmp(sign int) executionFunc {
	return func(evm *VM) (TraceRecord, error) {
		raw0, err := evm.Stack.Pop()
		if err != nil {
			return TraceRecord{}, err
		}
		raw1, err := evm.Stack.Pop()
		if err != nil {
			return TraceRecord{}, err
		}
		res := boolWord(wordToInt(raw0).Cmp(wordToInt(raw1)) == sign)
		if err := evm.Stack.PushUint(res); err != nil {
			return TraceRecord{}, err
		}
		return TraceRecord{Gas: GasFastestStep}, nil
	}
}

func opIszero(evm *VM) (TraceRecord, error) {
	raw0, err := evm.Stack.Pop()
	if err != nil {
		return TraceRecord{}, err
	}
	res := boolWord(wordToUint(raw0).Sign() == 0)
	if err := evm.Stack.PushUint(res); err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord{Gas: GasFastestStep, Operands: []Word{raw0}}, nil
}

func opNot(evm *VM) (TraceRecord, error) {
	s0, err := evm.Stack.PopUint()
	if err != nil {
		return TraceRecord{}, err
	}
	res := new(big.Int).Sub(math.MaxBig256, s0)
	if err := evm.Stack.PushUint(res); err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord{Gas: GasFastestStep}, nil
}

func opSignextend(evm *VM) (TraceRecord, error) {
	s0, err := evm.Stack.PopUint()
	if err != nil {
		return TraceRecord{}, err
	}
	raw1, err := evm.Stack.Pop()
	if err != nil {
		return TraceRecord{}, err
	}
	s1 := wordToUint(raw1)
	res := s1
	if s0.IsUint64() && s0.Uint64() <= 31 {
		bit := uint(s0.Uint64()*8 + 7)
		signBit := new(big.Int).Lsh(bigOne, bit)
		if s1.Bit(int(bit)) == 1 {
			res = new(big.Int).Or(s1, new(big.Int).Sub(big2e256, signBit))
		} else {
			res = new(big.Int).And(s1, new(big.Int).Sub(signBit, bigOne))
		}
	}
	if err := evm.Stack.PushUint(res); err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord{Gas: GasFastStep, Operands: []Word{concreteFromUint(s0), raw1}}, nil
}

func opPop(evm *VM) (TraceRecord, error) {
	if _, err := evm.Stack.Pop(); err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord{Gas: GasQuickStep}, nil
}

func opCallvalue(evm *VM) (TraceRecord, error) {
	// msg.value == 0
	if err := evm.Stack.PushUint(new(big.Int)); err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord{Gas: GasQuickStep}, nil
}

func opAddress(evm *VM) (TraceRecord, error) {
	if err := evm.Stack.PushUint(bigOne); err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord{Gas: GasQuickStep}, nil
}

func opCalldataload(evm *VM) (TraceRecord, error) {
	raw0, err := evm.Stack.Pop()
	if err != nil {
		return TraceRecord{}, err
	}
	offset := wordToUint(raw0)
	word := Concrete(make([]byte, 32))
	if offset.IsUint64() {
		word = evm.CallData.LoadWord(offset.Uint64())
	}
	if err := evm.Stack.Push(word); err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord{Gas: GasFastestStep, Operands: []Word{raw0}}, nil
}

func opCalldatasize(evm *VM) (TraceRecord, error) {
	if err := evm.Stack.PushUint(big.NewInt(int64(evm.CallData.Len()))); err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord{Gas: GasQuickStep}, nil
}

func opCalldatacopy(evm *VM) (TraceRecord, error) {
	memOff, err := popMemOffset(evm, CALLDATACOPY)
	if err != nil {
		return TraceRecord{}, err
	}
	srcOff, err := evm.Stack.PopUint()
	if err != nil {
		return TraceRecord{}, err
	}
	size, err := evm.Stack.PopUint()
	if err != nil {
		return TraceRecord{}, err
	}
	if !size.IsUint64() || maxCopySize < size.Uint64() {
		return TraceRecord{}, &UnsupportedOpError{Op: CALLDATACOPY}
	}
	sz := size.Uint64()
	value := make([]byte, sz)
	if srcOff.IsUint64() {
		value = evm.CallData.Load(srcOff.Uint64(), sz)
	}
	evm.Mem.Set(memOff, value)
	return TraceRecord{Gas: gasCopy}, nil
}

func opMstore(evm *VM) (TraceRecord, error) {
	offset, err := popMemOffset(evm, MSTORE)
	if err != nil {
		return TraceRecord{}, err
	}
	value, err := evm.Stack.Pop()
	if err != nil {
		return TraceRecord{}, err
	}
	evm.Mem.Store(offset, value.Bytes())
	return TraceRecord{Gas: GasFastestStep}, nil
}

func opMload(evm *VM) (TraceRecord, error) {
	offset, err := popMemOffset(evm, MLOAD)
	if err != nil {
		return TraceRecord{}, err
	}
	val, aligned := evm.Mem.Load(offset)
	if err := evm.Stack.Push(val); err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord{Gas: gasMemLoad, MemAligned: aligned}, nil
}

func opJump(evm *VM) (TraceRecord, error) {
	dest, err := evm.Stack.PopUint()
	if err != nil {
		return TraceRecord{}, err
	}
	if err := evm.jumpTo(JUMP, dest); err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord{Gas: GasMidStep}, nil
}

func opJumpi(evm *VM) (TraceRecord, error) {
	dest, err := evm.Stack.PopUint()
	if err != nil {
		return TraceRecord{}, err
	}
	cond, err := evm.Stack.PopUint()
	if err != nil {
		return TraceRecord{}, err
	}
	if cond.Sign() == 0 {
		evm.PC++
		return TraceRecord{Gas: GasSlowStep}, nil
	}
	if err := evm.jumpTo(JUMPI, dest); err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord{Gas: GasSlowStep}, nil
}

func (evm *VM) jumpTo(op OpCode, dest *big.Int) error {
	if !dest.IsUint64() || uint64(len(evm.Code)) <= dest.Uint64() || OpCode(evm.Code[dest.Uint64()]) != JUMPDEST {
		return &UnsupportedOpError{Op: op}
	}
	evm.PC = dest.Uint64()
	return nil
}

func opJumpdest(evm *VM) (TraceRecord, error) {
	return TraceRecord{Gas: gasJumpdest}, nil
}

func opRevert(evm *VM) (TraceRecord, error) {
	// skip the 2 stack pops
	evm.Stopped = true
	return TraceRecord{Gas: gasRevert}, nil
}

func makePush(n uint64) executionFunc {
	return func(evm *VM) (TraceRecord, error) {
		codeLen := uint64(len(evm.Code))
		start := evm.PC + 1
		if codeLen < start {
			start = codeLen
		}
		end := start + n
		if codeLen < end {
			end = codeLen
		}
		if err := evm.Stack.Push(NewConcrete(evm.Code[start:end])); err != nil {
			return TraceRecord{}, err
		}
		evm.PC += n
		gas := GasFastestStep
		if n == 0 {
			gas = GasQuickStep
		}
		return TraceRecord{Gas: gas}, nil
	}
}

func makeDup(n int) executionFunc {
	return func(evm *VM) (TraceRecord, error) {
		if err := evm.Stack.Dup(n); err != nil {
			return TraceRecord{}, err
		}
		return TraceRecord{Gas: GasFastestStep}, nil
	}
}

func makeSwap(n int) executionFunc {
	return func(evm *VM) (TraceRecord, error) {
		if err := evm.Stack.Swap(n); err != nil {
			return TraceRecord{}, err
		}
		return TraceRecord{Gas: GasFastestStep}, nil
	}
}

// popMemOffset pops a memory offset and bounds it.
func popMemOffset(evm *VM, op OpCode) (uint64, error) {
	offset, err := evm.Stack.PopUint()
	if err != nil {
		return 0, err
	}
	if !offset.IsUint64() || maxMemOffset < offset.Uint64() {
		return 0, &UnsupportedOpError{Op: op}
	}
	return offset.Uint64(), nil
}
