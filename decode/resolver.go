package decode

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// StaticResolver is a fixed, pre-loaded ABIResolver built from one or more
// contract ABIs registered ahead of time. Loading ABI JSON from disk or a
// registry service is the config layer's job; StaticResolver only holds
// the resulting selector tables and answers lookups against them.
type StaticResolver struct {
	events    map[string]map[common.Hash]abi.Event
	functions map[string]map[[4]byte]abi.Method
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		events:    make(map[string]map[common.Hash]abi.Event),
		functions: make(map[string]map[[4]byte]abi.Method),
	}
}

// RegisterABI indexes every event and method of contractABI under
// sourceName, so later lookups for that source resolve by selector.
// Registering the same sourceName twice merges into the existing tables.
func (r *StaticResolver) RegisterABI(sourceName string, contractABI abi.ABI) {
	events, ok := r.events[sourceName]
	if !ok {
		events = make(map[common.Hash]abi.Event)
		r.events[sourceName] = events
	}
	for _, ev := range contractABI.Events {
		events[ev.ID] = ev
	}

	functions, ok := r.functions[sourceName]
	if !ok {
		functions = make(map[[4]byte]abi.Method)
		r.functions[sourceName] = functions
	}
	for _, m := range contractABI.Methods {
		var selector [4]byte
		copy(selector[:], m.ID)
		functions[selector] = m
	}
}

func (r *StaticResolver) EventBySelector(sourceName string, topic0 common.Hash) (abi.Event, bool) {
	events, ok := r.events[sourceName]
	if !ok {
		return abi.Event{}, false
	}
	ev, ok := events[topic0]
	return ev, ok
}

func (r *StaticResolver) FunctionBySelector(sourceName string, selector [4]byte) (abi.Method, bool) {
	functions, ok := r.functions[sourceName]
	if !ok {
		return abi.Method{}, false
	}
	m, ok := functions[selector]
	return m, ok
}
