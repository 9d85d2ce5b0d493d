package schema

import "fmt"

// SymbolID is the numeric identifier for a symbol.
type SymbolID uint32

// Symbol describes a tradable instrument and its plausible price regime.
type Symbol struct {
	ID        SymbolID
	Name      string
	Class     AssetClass
	SeedPrice float64
	MinPrice  float64
	MaxPrice  float64
}

// Registry stores the fixed symbol set of a run.
type Registry struct {
	symbols      []Symbol
	symbolByName map[string]SymbolID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		symbolByName: make(map[string]SymbolID),
	}
}

// AddSymbol registers a new symbol and returns its ID.
func (r *Registry) AddSymbol(sym Symbol) (SymbolID, error) {
	if sym.Name == "" {
		return 0, fmt.Errorf("symbol name is empty")
	}
	if !sym.Class.IsAvailable() {
		return 0, fmt.Errorf("symbol %s has no asset class", sym.Name)
	}
	if id, ok := r.symbolByName[sym.Name]; ok {
		return id, fmt.Errorf("symbol already exists: %s", sym.Name)
	}
	if sym.SeedPrice <= 0 {
		return 0, fmt.Errorf("symbol %s seed price must be > 0", sym.Name)
	}
	if sym.MinPrice <= 0 || sym.MaxPrice <= sym.MinPrice {
		return 0, fmt.Errorf("symbol %s price range is invalid: [%v, %v]", sym.Name, sym.MinPrice, sym.MaxPrice)
	}
	if sym.SeedPrice < sym.MinPrice || sym.SeedPrice > sym.MaxPrice {
		return 0, fmt.Errorf("symbol %s seed price %v outside [%v, %v]", sym.Name, sym.SeedPrice, sym.MinPrice, sym.MaxPrice)
	}
	sym.ID = SymbolID(len(r.symbols) + 1)
	r.symbols = append(r.symbols, sym)
	r.symbolByName[sym.Name] = sym.ID
	return sym.ID, nil
}

// Symbol returns the symbol by ID.
func (r *Registry) Symbol(id SymbolID) (Symbol, bool) {
	if id == 0 || int(id) > len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[id-1], true
}

// SymbolByName returns the symbol registered under name.
func (r *Registry) SymbolByName(name string) (Symbol, bool) {
	id, ok := r.symbolByName[name]
	if !ok {
		return Symbol{}, false
	}
	return r.Symbol(id)
}

// SymbolCount returns the number of symbols in the registry.
func (r *Registry) SymbolCount() int {
	return len(r.symbols)
}

// SymbolAt returns the symbol by zero-based index.
func (r *Registry) SymbolAt(index int) (Symbol, bool) {
	if index < 0 || index >= len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[index], true
}

// Names returns symbol names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.symbols))
	for _, sym := range r.symbols {
		out = append(out, sym.Name)
	}
	return out
}
