package classifier

// LayerZero v2 endpoint ids of the chains the vaults are deployed on.
var endpointChains = map[uint32]uint64{
	30101: 1,     // ethereum
	30102: 56,    // bsc
	30106: 43114, // avalanche
	30109: 137,   // polygon
	30110: 42161, // arbitrum
	30111: 10,    // optimism
	30181: 5000,  // mantle
	30184: 8453,  // base
	30332: 146,   // sonic
}

// EndpointChainID maps a LayerZero endpoint id to its EVM chain id.
func EndpointChainID(eid uint32) (uint64, bool) {
	chainID, ok := endpointChains[eid]
	return chainID, ok
}
