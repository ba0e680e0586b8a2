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

import "math/big"

// Gas tiers charged per step. The amounts only feed the analysis budget that
// bounds how far a prologue is followed; they make no consensus claim.
const (
	GasQuickStep   uint64 = 2
	GasFastestStep uint64 = 3
	GasFastStep    uint64 = 5
	GasMidStep     uint64 = 8
	GasSlowStep    uint64 = 10

	gasJumpdest uint64 = 1
	gasMemLoad  uint64 = 4
	gasCopy     uint64 = 4
	gasRevert   uint64 = 4

	gasExpByte uint64 = 50
)

// gasExp approximates the EXP charge from the byte width of the exponent.
func gasExp(exponent *big.Int) uint64 {
	return gasExpByte * (1 + uint64(exponent.BitLen())/8)
}
