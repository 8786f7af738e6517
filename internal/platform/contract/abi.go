package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// bettingABI is the subset of the price-betting contract the service calls.
// Direction is encoded 0 = higher, 1 = lower; status 0 = active, 1 = resolved.
const bettingABIJSON = `[
	{"name":"tokens","type":"function","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"bytes32"}],
	 "outputs":[{"name":"symbol","type":"string"},{"name":"decimals","type":"uint8"},{"name":"isActive","type":"bool"}]},
	{"name":"bets","type":"function","stateMutability":"view",
	 "inputs":[{"name":"betId","type":"uint256"}],
	 "outputs":[
		{"name":"id","type":"uint256"},
		{"name":"tokenId","type":"bytes32"},
		{"name":"startPrice","type":"int256"},
		{"name":"endPrice","type":"int256"},
		{"name":"startTime","type":"uint256"},
		{"name":"endTime","type":"uint256"},
		{"name":"totalPoolHigher","type":"uint256"},
		{"name":"totalPoolLower","type":"uint256"},
		{"name":"status","type":"uint8"}]},
	{"name":"currentBetId","type":"function","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"getBetParticipants","type":"function","stateMutability":"view",
	 "inputs":[{"name":"betId","type":"uint256"}],"outputs":[{"name":"","type":"address[]"}]},
	{"name":"userBets","type":"function","stateMutability":"view",
	 "inputs":[{"name":"betId","type":"uint256"},{"name":"user","type":"address"}],
	 "outputs":[{"name":"amount","type":"uint256"},{"name":"direction","type":"uint8"},{"name":"claimed","type":"bool"}]},
	{"name":"calculatePotentialReward","type":"function","stateMutability":"view",
	 "inputs":[{"name":"betId","type":"uint256"},{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"createBet","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"tokenId","type":"bytes32"}],"outputs":[]},
	{"name":"resolveBet","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"betId","type":"uint256"}],"outputs":[]},
	{"name":"placeBet","type":"function","stateMutability":"payable",
	 "inputs":[{"name":"betId","type":"uint256"},{"name":"direction","type":"uint8"}],"outputs":[]},
	{"name":"claimReward","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"betId","type":"uint256"}],"outputs":[]}
]`

// nftABI is the participation token's mint entry point and the ERC-721
// owner lookup. ownerOf reverts for a token that was never minted.
const nftABIJSON = `[
	{"name":"mint","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"name":"ownerOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

var (
	bettingABI abi.ABI
	nftABI     abi.ABI
)

func init() {
	var err error
	bettingABI, err = abi.JSON(strings.NewReader(bettingABIJSON))
	if err != nil {
		panic("betting abi parse: " + err.Error())
	}
	nftABI, err = abi.JSON(strings.NewReader(nftABIJSON))
	if err != nil {
		panic("nft abi parse: " + err.Error())
	}
}
