package classifier

import (
	"encoding/hex"
	"strings"
)

// ContractClass buckets a destination address by what is deployed
// there, as far as the pipeline can tell without chain access.
type ContractClass uint8

const (
	// ContractClassUnknown is any destination not in the registry.
	ContractClassUnknown ContractClass = iota
	// ContractClassDEX is a known decentralized exchange router or
	// pool, the prime sandwich and frontrun target.
	ContractClassDEX
)

// mainnet DEX routers and aggregators. The set does not need to be
// complete; an unknown DEX only costs one classification signal, it
// never bypasses protection.
var knownDEXRouters = []string{
	"7a250d5630b4cf539739df2c5dacb4c659f2488d", // uniswap v2 router
	"e592427a0aece92de3edee1f18e0157c05861564", // uniswap v3 router
	"68b3465833fb72a70ecdf485e0e4c7bd8665fc45", // uniswap v3 router 2
	"d9e1ce17f2641f24ae83637ab66a2cca9c378b9f", // sushiswap router
	"1111111254eeb25477b68fb85ed929f73a960582", // 1inch v5
	"ba12222222228d8ba445958a75a0704d566bf2c8", // balancer vault
	"99a58482bd75cbab83b27ec03ca68ff489b5788f", // curve router
	"def1c0ded9bec7f1a1670819833240f027b25eff", // 0x exchange proxy
}

// DexRegistry maps destination addresses to contract classes.
type DexRegistry struct {
	classes map[string]ContractClass
}

// NewDexRegistry builds a registry preloaded with the curated mainnet
// DEX set.
func NewDexRegistry() *DexRegistry {
	r := &DexRegistry{classes: make(map[string]ContractClass, len(knownDEXRouters))}
	for _, addr := range knownDEXRouters {
		r.classes[addr] = ContractClassDEX
	}
	return r
}

// Register adds or overrides a destination's class, for deployments
// that watch other chains or additional venues.
func (r *DexRegistry) Register(addr []byte, class ContractClass) {
	r.classes[hex.EncodeToString(addr)] = class
}

// Class returns the destination's class. Nil or malformed addresses
// are unknown.
func (r *DexRegistry) Class(addr []byte) ContractClass {
	if len(addr) == 0 {
		return ContractClassUnknown
	}
	class, ok := r.classes[strings.ToLower(hex.EncodeToString(addr))]
	if !ok {
		return ContractClassUnknown
	}
	return class
}
