package mod256

import "github.com/holiman/uint256"

// The pipeline reduces against one fixed 256-bit prime:
//
//	P = 104899928942039473597645237135751317405745389583683433800060134911610808289117
//
// Because P > 2^255, any 256-bit value is below 2P and a single
// conditional subtraction reduces it.
var (
	modulusP = uint256.MustFromHex("0xe7eb417862865b8ff6fa5c28e93008d69368f209ad2757cc370682fe26bdc75d")

	// rModP is 2^256 mod P (= 2^256 - P here): the weight a value placed
	// above bit 255 carries once reduced. TRANSFORM loads it as the
	// multiplier's correction factor.
	rModP = uint256.MustFromHex("0x1814be879d79a4700905a3d716cff7296c970df652d8a833c8f97d01d94238a3")
)

// Modulus returns the fixed prime P.
func Modulus() uint256.Int {
	return *modulusP
}
