package makerdao

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// Mainnet multi-collateral DAI system contracts.
var (
	cdpManagerAddr = common.HexToAddress("0x5ef30b9986345249bc32d8928B7ee64DE9435E39")
	getCdpsAddr    = common.HexToAddress("0x36a724Bd100c39f0Ea4D3A20F7097eE01A8Ff573")
	vatAddr        = common.HexToAddress("0x35D1b3F3D7966A1DFe207aa4514C12a259A0492B")
	spotAddr       = common.HexToAddress("0x65C79fcB50Ca1594B025960e539eD7A9a6D434A3")
	jugAddr        = common.HexToAddress("0x19c0976f590D67707E62397C87829d896Dc0f1F1")
	catAddr        = common.HexToAddress("0x78F2c2AF65126834c51822F56Be0d7469D7A523E")
	daiJoinAddr    = common.HexToAddress("0x9759A6Ac90977b93B58547b4A71c78317f391A28")
)

// mcdDeployedBlock is where the multi-collateral DAI system went live; log
// queries never need to look earlier.
const mcdDeployedBlock = 8928152

// collateralTypes maps the supported collateral type names to their assets.
// Vaults with a collateral type outside this set are skipped with a warning.
var collateralTypes = map[string]entities.Asset{
	"ETH-A":  entities.AssetETH,
	"ETH-B":  entities.AssetETH,
	"ETH-C":  entities.AssetETH,
	"BAT-A":  entities.AssetBAT,
	"USDC-A": entities.AssetUSDC,
	"USDC-B": entities.AssetUSDC,
	"USDT-A": entities.AssetUSDT,
	"WBTC-A": entities.AssetWBTC,
	"WBTC-B": entities.AssetWBTC,
	"WBTC-C": entities.AssetWBTC,
	"LINK-A": entities.AssetLINK,
	"YFI-A":  entities.AssetYFI,
	"MANA-A": entities.AssetMANA,
	"GUSD-A": entities.AssetGUSD,
	"UNI-A":  entities.AssetUNI,
	"AAVE-A": entities.AssetAAVE,
}

// gemJoins maps collateral types to their collateral adapter contracts,
// which emit the deposit and withdrawal events of the vault history.
var gemJoins = map[string]common.Address{
	"ETH-A":  common.HexToAddress("0x2F0b23f53734252Bda2277357e97e1517d6B042A"),
	"ETH-B":  common.HexToAddress("0x08638eF1A205bE6762A8b935F5da9b700Cf7322c"),
	"ETH-C":  common.HexToAddress("0xF04a5cC80B1E94C69B48f5ee68a08CD2F09A7c3E"),
	"BAT-A":  common.HexToAddress("0x3D0B1912B66114d4096F48A8CEe3A56C231772cA"),
	"USDC-A": common.HexToAddress("0xA191e578a6736167326d05c119CE0c90849E84B7"),
	"USDC-B": common.HexToAddress("0x2600004fd1585f7270756DDc88aD9cfA10dD0428"),
	"USDT-A": common.HexToAddress("0x0Ac6A1D74E84C2dF9063bDDc31699FF2a2BB22A2"),
	"WBTC-A": common.HexToAddress("0xBF72Da2Bd84c5170618Fbe5914B0ECA9638d5eb5"),
	"WBTC-B": common.HexToAddress("0xfA8c996e158B80D77FbD0082BB437556A65B96E0"),
	"WBTC-C": common.HexToAddress("0x7f62f9592b823331E012D3c5DdF2A7714CfB9de2"),
	"LINK-A": common.HexToAddress("0xdFccAf8fDbD2F4805C174f856a317765B49E4a50"),
	"YFI-A":  common.HexToAddress("0x3ff33d9162aD47660083D7DC4bC02Fb231c81677"),
	"MANA-A": common.HexToAddress("0xA6EA3b9C04b8a38Ff5e224E7c3D6937ca44C0ef9"),
	"GUSD-A": common.HexToAddress("0xe29A14bcDeA40d83675aa43B72dF07f649738C8b"),
	"UNI-A":  common.HexToAddress("0x3BC3A58b4FC1CbE7e98bB4aB7c99535e8bA9b8F1"),
	"AAVE-A": common.HexToAddress("0x24e459F61cEAa7b1cE70Dbaea938940A7c5aD46e"),
}

const getCdpsABIJSON = `[
	{
		"inputs": [
			{"internalType": "address", "name": "manager", "type": "address"},
			{"internalType": "address", "name": "guy", "type": "address"}
		],
		"name": "getCdpsAsc",
		"outputs": [
			{"internalType": "uint256[]", "name": "ids", "type": "uint256[]"},
			{"internalType": "address[]", "name": "urns", "type": "address[]"},
			{"internalType": "bytes32[]", "name": "ilks", "type": "bytes32[]"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

const vatABIJSON = `[
	{
		"inputs": [
			{"internalType": "bytes32", "name": "", "type": "bytes32"},
			{"internalType": "address", "name": "", "type": "address"}
		],
		"name": "urns",
		"outputs": [
			{"internalType": "uint256", "name": "ink", "type": "uint256"},
			{"internalType": "uint256", "name": "art", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
		"name": "ilks",
		"outputs": [
			{"internalType": "uint256", "name": "Art", "type": "uint256"},
			{"internalType": "uint256", "name": "rate", "type": "uint256"},
			{"internalType": "uint256", "name": "spot", "type": "uint256"},
			{"internalType": "uint256", "name": "line", "type": "uint256"},
			{"internalType": "uint256", "name": "dust", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

const spotABIJSON = `[
	{
		"inputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
		"name": "ilks",
		"outputs": [
			{"internalType": "address", "name": "pip", "type": "address"},
			{"internalType": "uint256", "name": "mat", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

const jugABIJSON = `[
	{
		"inputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
		"name": "ilks",
		"outputs": [
			{"internalType": "uint256", "name": "duty", "type": "uint256"},
			{"internalType": "uint256", "name": "rho", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

var (
	getCdpsABI = mustParseABI(getCdpsABIJSON)
	vatABI     = mustParseABI(vatABIJSON)
	spotABI    = mustParseABI(spotABIJSON)
	jugABI     = mustParseABI(jugABIJSON)
)

func mustParseABI(abiJSON string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}
