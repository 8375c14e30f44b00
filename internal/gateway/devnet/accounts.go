package devnet

// Well-known accounts of the local Stacks devnet. Deployer owns the contract.
const (
	Deployer = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"
	Wallet1  = "ST1SJ3DTE5DN7X54YDH5D64R3BCB6A2AG2ZQ8YPD5"
	Wallet2  = "ST2CY5V39NHDPWSXMW9QDT3HC3GD6Q6XX4CFRK9AG"
	Wallet3  = "ST2JHG361ZXG51QTKY2NQCVBPPRRE2KZB1HR05NNC"
)
