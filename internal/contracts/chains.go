package contracts

import (
	"fmt"
	"sort"
)

type Chain struct {
	ID       uint64
	Name     string
	Explorer string
}

var chains = map[uint64]Chain{
	44787:    {ID: 44787, Name: "Celo Alfajores", Explorer: "https://alfajores.celoscan.io"},
	11155420: {ID: 11155420, Name: "OP Sepolia", Explorer: "https://sepolia-optimism.etherscan.io"},
	11155111: {ID: 11155111, Name: "Sepolia", Explorer: "https://sepolia.etherscan.io"},
}

// LookupChain reports the known network for id.
func LookupChain(id uint64) (Chain, bool) {
	c, ok := chains[id]
	return c, ok
}

func Chains() []Chain {
	out := make([]Chain, 0, len(chains))
	for _, c := range chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TxURL links a transaction hash on the chain's block explorer.
func (c Chain) TxURL(hash string) string {
	return fmt.Sprintf("%s/tx/%s", c.Explorer, hash)
}

func (c Chain) AddressURL(addr string) string {
	return fmt.Sprintf("%s/address/%s", c.Explorer, addr)
}
