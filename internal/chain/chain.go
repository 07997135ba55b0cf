// Package chain holds the static description of every supported ledger:
// endpoints, native and token assets, and whether the network is a testnet.
package chain

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/portfolio-aggregator/internal/errors"
)

// Asset is a native coin or ERC-20 token tracked on a chain
type Asset struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Name     string `yaml:"name" json:"name"`
	Decimals uint8  `yaml:"decimals" json:"decimals"`
	Contract string `yaml:"contract,omitempty" json:"contract,omitempty"`
}

// IsNative reports whether the asset is the chain's gas coin
func (a Asset) IsNative() bool {
	return a.Contract == ""
}

// Descriptor describes one EVM chain
type Descriptor struct {
	ID          uint64  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	DisplayName string  `yaml:"display_name" json:"displayName"`
	HTTPURL     string  `yaml:"http_url" json:"-"`
	WSSURL      string  `yaml:"wss_url,omitempty" json:"-"`
	Testnet     bool    `yaml:"testnet" json:"testnet"`
	Assets      []Asset `yaml:"assets" json:"assets"`
}

// Native returns the chain's native asset
func (d Descriptor) Native() (Asset, bool) {
	for _, a := range d.Assets {
		if a.IsNative() {
			return a, true
		}
	}
	return Asset{}, false
}

// Validate checks the descriptor is usable
func (d Descriptor) Validate() error {
	if d.ID == 0 {
		return apperrors.NewConfigError("chain.id", fmt.Sprintf("chain %q has no id", d.Name))
	}
	if d.Name == "" {
		return apperrors.NewConfigError("chain.name", fmt.Sprintf("chain %d has no name", d.ID))
	}
	if d.HTTPURL == "" {
		return apperrors.NewConfigError("chain.http_url", fmt.Sprintf("chain %s has no HTTP endpoint", d.Name))
	}
	seen := make(map[string]bool, len(d.Assets))
	for _, a := range d.Assets {
		sym := strings.ToUpper(a.Symbol)
		if sym == "" {
			return apperrors.NewConfigError("chain.assets", fmt.Sprintf("chain %s has an asset with no symbol", d.Name))
		}
		if seen[sym] {
			return apperrors.NewConfigError("chain.assets", fmt.Sprintf("chain %s lists %s twice", d.Name, sym))
		}
		seen[sym] = true
	}
	return nil
}

// Table is the ordered set of configured chains. Order is significant: it is
// the order results are reported in.
type Table struct {
	chains []Descriptor
	byID   map[uint64]int
	byName map[string]int
}

// NewTable builds a table, rejecting duplicates and invalid descriptors
func NewTable(chains []Descriptor) (*Table, error) {
	t := &Table{
		chains: make([]Descriptor, 0, len(chains)),
		byID:   make(map[uint64]int, len(chains)),
		byName: make(map[string]int, len(chains)),
	}
	for _, d := range chains {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		name := strings.ToLower(d.Name)
		if _, dup := t.byID[d.ID]; dup {
			return nil, apperrors.NewConfigError("chain.id", fmt.Sprintf("duplicate chain id %d", d.ID))
		}
		if _, dup := t.byName[name]; dup {
			return nil, apperrors.NewConfigError("chain.name", fmt.Sprintf("duplicate chain name %s", d.Name))
		}
		d.Name = name
		if d.DisplayName == "" {
			d.DisplayName = d.Name
		}
		t.byID[d.ID] = len(t.chains)
		t.byName[name] = len(t.chains)
		t.chains = append(t.chains, d)
	}
	return t, nil
}

// ByID looks up a chain by numeric id
func (t *Table) ByID(id uint64) (Descriptor, error) {
	i, ok := t.byID[id]
	if !ok {
		return Descriptor{}, apperrors.NewUnknownChainError(strconv.FormatUint(id, 10))
	}
	return t.chains[i], nil
}

// ByName looks up a chain by name, case-insensitive
func (t *Table) ByName(name string) (Descriptor, error) {
	i, ok := t.byName[strings.ToLower(name)]
	if !ok {
		return Descriptor{}, apperrors.NewUnknownChainError(name)
	}
	return t.chains[i], nil
}

// All returns every chain in configured order
func (t *Table) All() []Descriptor {
	out := make([]Descriptor, len(t.chains))
	copy(out, t.chains)
	return out
}

// Mainnets returns the non-testnet chains in configured order
func (t *Table) Mainnets() []Descriptor {
	out := make([]Descriptor, 0, len(t.chains))
	for _, d := range t.chains {
		if !d.Testnet {
			out = append(out, d)
		}
	}
	return out
}

// Order returns the configured position of a chain, or -1
func (t *Table) Order(id uint64) int {
	if i, ok := t.byID[id]; ok {
		return i
	}
	return -1
}

// IsTestnet reports whether the named chain is a testnet. Unknown names are
// treated as mainnet.
func (t *Table) IsTestnet(name string) bool {
	if i, ok := t.byName[strings.ToLower(name)]; ok {
		return t.chains[i].Testnet
	}
	return false
}

// Symbols returns the unique upper-case symbols across all chains, sorted
func (t *Table) Symbols() []string {
	set := make(map[string]struct{})
	for _, d := range t.chains {
		for _, a := range d.Assets {
			set[strings.ToUpper(a.Symbol)] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of chains
func (t *Table) Len() int {
	return len(t.chains)
}

type fileFormat struct {
	Chains []Descriptor `yaml:"chains"`
}

// LoadFile reads a YAML chain table. Endpoint values may reference
// environment variables as ${NAME}.
func LoadFile(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain file %s: %w", path, err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, apperrors.NewConfigError("chains_file", err.Error())
	}
	if len(f.Chains) == 0 {
		return nil, apperrors.NewConfigError("chains_file", "no chains defined")
	}

	for i := range f.Chains {
		f.Chains[i].HTTPURL = os.ExpandEnv(f.Chains[i].HTTPURL)
		f.Chains[i].WSSURL = os.ExpandEnv(f.Chains[i].WSSURL)
	}
	return NewTable(f.Chains)
}

// Load returns the table from path when set, otherwise the built-in one
func Load(path string) (*Table, error) {
	if path != "" {
		return LoadFile(path)
	}
	return NewTable(DefaultDescriptors())
}
