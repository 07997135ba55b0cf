package balance

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// balanceOfSelector is keccak256("balanceOf(address)")[:4]
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// EncodeBalanceOf builds calldata for balanceOf(owner)
func EncodeBalanceOf(owner common.Address) []byte {
	data := make([]byte, 0, 4+32)
	data = append(data, balanceOfSelector...)
	return append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
}

// DecodeUint256 reads a big-endian uint256 return value. An empty result
// (no code at the address) decodes as zero.
func DecodeUint256(out []byte) (*big.Int, error) {
	if len(out) == 0 {
		return new(big.Int), nil
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("short uint256 result: %d bytes", len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}
