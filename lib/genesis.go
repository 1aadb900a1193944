package lib

import "os"

// GenesisState seeds a shard: the first committee roster and the parameters of the
// genesis block committed at startup
type GenesisState struct {
	NetworkID uint64       `json:"networkID"`
	Shard     uint64       `json:"shard"`
	Epoch     uint64       `json:"epoch"`
	Committee []*Validator `json:"committee"`
}

// NewGenesisBlock() deterministically builds the height zero block for the state.
// Genesis carries no commands, no proposer, and no signature; it is committed at
// startup without passing through proposal validation
func (g *GenesisState) NewGenesisBlock() (*Block, ErrorI) {
	block := &Block{
		NetworkID: g.NetworkID,
		Shard:     g.Shard,
		Epoch:     g.Epoch,
		Height:    0,
	}
	if _, err := block.SetID(); err != nil {
		return nil, err
	}
	return block, nil
}

// WriteToFile() saves the genesis state to a JSON file
func (g *GenesisState) WriteToFile(filepath string) ErrorI {
	bz, err := MarshalJSONIndent(g)
	if err != nil {
		return err
	}
	if e := os.WriteFile(filepath, bz, os.ModePerm); e != nil {
		return ErrWriteFile(e)
	}
	return nil
}

// NewGenesisFromFile() populates a genesis state from a JSON file
func NewGenesisFromFile(filepath string) (*GenesisState, ErrorI) {
	bz, e := os.ReadFile(filepath)
	if e != nil {
		return nil, ErrReadFile(e)
	}
	g := new(GenesisState)
	if err := UnmarshalJSON(bz, g); err != nil {
		return nil, err
	}
	return g, nil
}
