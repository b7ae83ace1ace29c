package broker

import (
	"sort"

	"github.com/joripage/brokerlink/pkg/broker/model"
)

// PositionEntry is the last quantity the gateway reported for an instrument.
type PositionEntry struct {
	Instrument *model.Instrument
	Quantity   int64
	AvgCost    float64
}

type positionTable struct {
	entries map[int64]PositionEntry
}

func newPositionTable() *positionTable {
	return &positionTable{entries: make(map[int64]PositionEntry)}
}

// set replaces whatever was known for the instrument.
func (p *positionTable) set(entry PositionEntry) {
	p.entries[entry.Instrument.ID] = entry
}

func (p *positionTable) get(instrumentID int64) (int64, bool) {
	e, ok := p.entries[instrumentID]
	return e.Quantity, ok
}

func (p *positionTable) snapshot() []PositionEntry {
	out := make([]PositionEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument.ID < out[j].Instrument.ID })
	return out
}
