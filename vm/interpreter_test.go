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
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/require"
)

// runToEnd steps until the VM stops or errors.
func runToEnd(evm *VM) error {
	for !evm.Stopped {
		if _, err := evm.Step(); err != nil {
			return err
		}
	}
	return nil
}

// topUint runs the code with empty calldata and returns the resulting
// stack top as an unsigned integer.
func topUint(t *testing.T, code []byte) *big.Int {
	t.Helper()
	evm := NewVM(code, nil)
	require.NoError(t, runToEnd(evm))
	top, err := evm.Stack.Peek()
	require.NoError(t, err)
	return wordToUint(top)
}

func TestArithmeticSemantics(t *testing.T) {
	maxWord := math.MaxBig256

	tests := []struct {
		name string
		code []byte
		want *big.Int
	}{
		{"add", []byte{byte(PUSH1), 3, byte(PUSH1), 2, byte(ADD)}, big.NewInt(5)},
		{"sub wraps", []byte{byte(PUSH1), 5, byte(PUSH1), 3, byte(SUB)},
			new(big.Int).Sub(maxWord, big.NewInt(1))}, // 3 - 5 mod 2**256
		{"mul", []byte{byte(PUSH1), 6, byte(PUSH1), 7, byte(MUL)}, big.NewInt(42)},
		{"div", []byte{byte(PUSH1), 4, byte(PUSH1), 12, byte(DIV)}, big.NewInt(3)},
		{"div by zero", []byte{byte(PUSH1), 0, byte(PUSH1), 12, byte(DIV)}, big.NewInt(0)},
		{"exp", []byte{byte(PUSH1), 8, byte(PUSH1), 2, byte(EXP)}, big.NewInt(256)},
		{"exp wraps to zero", []byte{byte(PUSH2), 1, 0, byte(PUSH1), 2, byte(EXP)}, big.NewInt(0)},
		{"eq", []byte{byte(PUSH1), 9, byte(PUSH1), 9, byte(EQ)}, big.NewInt(1)},
		{"lt", []byte{byte(PUSH1), 9, byte(PUSH1), 3, byte(LT)}, big.NewInt(1)},
		{"gt", []byte{byte(PUSH1), 9, byte(PUSH1), 3, byte(GT)}, big.NewInt(0)},
		{"xor", []byte{byte(PUSH1), 0xf0, byte(PUSH1), 0xff, byte(XOR)}, big.NewInt(0x0f)},
		{"and", []byte{byte(PUSH1), 0xf0, byte(PUSH1), 0xff, byte(AND)}, big.NewInt(0xf0)},
		{"or", []byte{byte(PUSH1), 0xf0, byte(PUSH1), 0x0f, byte(OR)}, big.NewInt(0xff)},
		{"shl", []byte{byte(PUSH1), 1, byte(PUSH1), 4, byte(SHL)}, big.NewInt(16)},
		{"shr", []byte{byte(PUSH1), 16, byte(PUSH1), 4, byte(SHR)}, big.NewInt(1)},
		{"shr overshift", []byte{byte(PUSH1), 1, byte(PUSH2), 1, 0, byte(SHR)}, big.NewInt(0)},
		{"byte", []byte{byte(PUSH1), 0xab, byte(PUSH1), 31, byte(BYTE)}, big.NewInt(0xab)},
		{"byte out of range", []byte{byte(PUSH1), 0xab, byte(PUSH1), 40, byte(BYTE)}, big.NewInt(0)},
		{"not zero", []byte{byte(PUSH1), 0, byte(NOT)}, maxWord},
		{"iszero", []byte{byte(PUSH1), 0, byte(ISZERO)}, big.NewInt(1)},
		{"slt signed", []byte{byte(PUSH1), 1, byte(PUSH32),
			0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
			0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
			byte(SLT)}, big.NewInt(1)}, // -1 < 1
		{"sgt signed", []byte{byte(PUSH1), 1, byte(PUSH32),
			0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
			0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
			byte(SGT)}, big.NewInt(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Zero(t, tt.want.Cmp(topUint(t, tt.code)))
		})
	}
}

func TestSignextend(t *testing.T) {
	// sign-extend 0xff from byte width 1: all bits set
	code := []byte{byte(PUSH1), 0xff, byte(PUSH1), 0, byte(SIGNEXTEND)}
	require.Zero(t, math.MaxBig256.Cmp(topUint(t, code)))

	// 0x7f stays positive
	code = []byte{byte(PUSH1), 0x7f, byte(PUSH1), 0, byte(SIGNEXTEND)}
	require.Equal(t, int64(0x7f), topUint(t, code).Int64())

	// width >= 32 leaves the value alone
	code = []byte{byte(PUSH1), 0xff, byte(PUSH1), 40, byte(SIGNEXTEND)}
	require.Equal(t, int64(0xff), topUint(t, code).Int64())
}

func TestPushSemantics(t *testing.T) {
	// PUSH0 pushes a zero word and costs 2.
	evm := NewVM([]byte{byte(PUSH0)}, nil)
	rec, err := evm.Step()
	require.NoError(t, err)
	require.Equal(t, GasQuickStep, rec.Gas)
	require.Equal(t, int64(0), topUint(t, []byte{byte(PUSH0)}).Int64())

	// Truncated immediates are read as far as the code goes.
	require.Equal(t, int64(1), topUint(t, []byte{byte(PUSH2), 1}).Int64())

	// PC lands past the immediate.
	evm = NewVM([]byte{byte(PUSH1), 5, byte(JUMPDEST)}, nil)
	_, err = evm.Step()
	require.NoError(t, err)
	require.Equal(t, uint64(2), evm.PC)
	require.False(t, evm.Stopped)
}

func TestJumpSemantics(t *testing.T) {
	// 0: PUSH1 4; 2: JUMP; 3: INVALID; 4: JUMPDEST
	code := []byte{byte(PUSH1), 4, byte(JUMP), byte(INVALID), byte(JUMPDEST)}
	evm := NewVM(code, nil)
	require.NoError(t, runToEnd(evm))
	require.True(t, evm.Stopped)

	// Jump to a non-JUMPDEST byte is unsupported.
	code = []byte{byte(PUSH1), 3, byte(JUMP), byte(STOP)}
	evm = NewVM(code, nil)
	err := runToEnd(evm)
	var unsupported *UnsupportedOpError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, JUMP, unsupported.Op)

	// Out-of-range destination likewise.
	code = []byte{byte(PUSH1), 200, byte(JUMP)}
	evm = NewVM(code, nil)
	require.ErrorAs(t, runToEnd(evm), &unsupported)
}

func TestJumpiSemantics(t *testing.T) {
	// Zero condition falls through to the next instruction.
	// 0: PUSH1 0; 2: PUSH1 6; 4: JUMPI; 5: JUMPDEST; 6: JUMPDEST
	code := []byte{byte(PUSH1), 0, byte(PUSH1), 6, byte(JUMPI), byte(JUMPDEST), byte(JUMPDEST)}
	evm := NewVM(code, nil)
	for i := 0; i < 3; i++ {
		_, err := evm.Step()
		require.NoError(t, err)
	}
	require.Equal(t, uint64(5), evm.PC)

	// Non-zero condition jumps.
	code = []byte{byte(PUSH1), 1, byte(PUSH1), 6, byte(JUMPI), byte(INVALID), byte(JUMPDEST)}
	evm = NewVM(code, nil)
	for i := 0; i < 3; i++ {
		_, err := evm.Step()
		require.NoError(t, err)
	}
	require.Equal(t, uint64(6), evm.PC)
}

func TestTraceRecordOperands(t *testing.T) {
	code := []byte{byte(PUSH1), 2, byte(PUSH1), 3, byte(ADD)}
	evm := NewVM(code, nil)

	rec, err := evm.Step()
	require.NoError(t, err)
	require.Equal(t, PUSH1, rec.Op)
	require.Empty(t, rec.Operands)

	_, err = evm.Step()
	require.NoError(t, err)

	rec, err = evm.Step()
	require.NoError(t, err)
	require.Equal(t, ADD, rec.Op)
	require.Equal(t, GasFastestStep, rec.Gas)
	require.Len(t, rec.Operands, 2)
	// pop order: top first
	require.Equal(t, int64(3), wordToUint(rec.Operands[0]).Int64())
	require.Equal(t, int64(2), wordToUint(rec.Operands[1]).Int64())
}

func TestUnsupportedOp(t *testing.T) {
	evm := NewVM([]byte{byte(SLOAD)}, nil)
	_, err := evm.Step()
	var unsupported *UnsupportedOpError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, SLOAD, unsupported.Op)
	require.True(t, strings.Contains(err.Error(), "SLOAD"))
}

func TestStackUnderflowSurfaces(t *testing.T) {
	evm := NewVM([]byte{byte(ADD)}, nil)
	_, err := evm.Step()
	require.True(t, errors.Is(err, ErrStackUnderflow))
}

func TestCalldataOps(t *testing.T) {
	calldata := CallData{0xde, 0xad, 0xbe, 0xef}

	// CALLDATALOAD right-pads.
	evm := NewVM([]byte{byte(PUSH1), 0, byte(CALLDATALOAD)}, calldata)
	require.NoError(t, runToEnd(evm))
	top, err := evm.Stack.Peek()
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, top.Bytes()[:4])
	require.Equal(t, make([]byte, 28), top.Bytes()[4:])

	// CALLDATASIZE reports the true length.
	evm = NewVM([]byte{byte(CALLDATASIZE)}, calldata)
	require.NoError(t, runToEnd(evm))
	top, err = evm.Stack.Peek()
	require.NoError(t, err)
	require.Equal(t, int64(4), wordToUint(top).Int64())
}

func TestCalldatacopy(t *testing.T) {
	calldata := CallData{0xde, 0xad, 0xbe, 0xef}

	// copy 4 bytes to memory offset 0, then read them back
	code := []byte{
		byte(PUSH1), 4, // size
		byte(PUSH1), 0, // source offset
		byte(PUSH1), 0, // memory offset
		byte(CALLDATACOPY),
		byte(PUSH1), 0,
		byte(MLOAD),
	}
	evm := NewVM(code, calldata)
	var last TraceRecord
	for !evm.Stopped {
		rec, err := evm.Step()
		require.NoError(t, err)
		last = rec
	}
	require.Equal(t, MLOAD, last.Op)
	require.True(t, last.MemAligned)
	top, err := evm.Stack.Peek()
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, top.Bytes()[:4])

	// Oversized copies end the analysis.
	code = []byte{
		byte(PUSH2), 1, 1, // size = 257
		byte(PUSH1), 0,
		byte(PUSH1), 0,
		byte(CALLDATACOPY),
	}
	evm = NewVM(code, calldata)
	var unsupported *UnsupportedOpError
	require.ErrorAs(t, runToEnd(evm), &unsupported)
	require.Equal(t, CALLDATACOPY, unsupported.Op)
}

func TestMstoreMload(t *testing.T) {
	code := []byte{
		byte(PUSH1), 0x2a, // value
		byte(PUSH1), 0x40, // offset
		byte(MSTORE),
		byte(PUSH1), 0x40,
		byte(MLOAD),
	}
	evm := NewVM(code, nil)
	require.NoError(t, runToEnd(evm))
	top, err := evm.Stack.Peek()
	require.NoError(t, err)
	require.Equal(t, int64(0x2a), wordToUint(top).Int64())
}

func TestEnvOps(t *testing.T) {
	require.Equal(t, int64(0), topUint(t, []byte{byte(CALLVALUE)}).Int64())
	require.Equal(t, int64(1), topUint(t, []byte{byte(ADDRESS)}).Int64())
}

func TestRevertStops(t *testing.T) {
	evm := NewVM([]byte{byte(REVERT), byte(JUMPDEST)}, nil)
	rec, err := evm.Step()
	require.NoError(t, err)
	require.Equal(t, REVERT, rec.Op)
	require.True(t, evm.Stopped)
}

func TestStepPastEnd(t *testing.T) {
	evm := NewVM(nil, nil)
	rec, err := evm.Step()
	require.NoError(t, err)
	require.True(t, evm.Stopped)
	require.Zero(t, rec.Gas)
}

func TestClone(t *testing.T) {
	evm := NewVM([]byte{byte(PUSH1), 1, byte(PUSH1), 2, byte(ADD)}, nil)
	_, err := evm.Step()
	require.NoError(t, err)

	snap := evm.Clone()
	require.NoError(t, runToEnd(evm))
	require.Equal(t, uint64(2), snap.PC)
	require.Equal(t, 1, snap.Stack.Len())
	require.False(t, snap.Stopped)
	require.True(t, evm.Stopped)
}

func TestStringer(t *testing.T) {
	evm := NewVM([]byte{byte(PUSH1), 1}, nil)
	require.True(t, strings.Contains(evm.String(), "PUSH1"))
}
