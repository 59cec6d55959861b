package sim

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"nautgate/internal/gateway/engine"
)

type catalogFile struct {
	Venues []struct {
		ID          string `yaml:"id"`
		Instruments []struct {
			ID        string `yaml:"id"`
			Base      string `yaml:"base"`
			Quote     string `yaml:"quote"`
			PriceStep string `yaml:"price_step"`
			QtyStep   string `yaml:"qty_step"`
		} `yaml:"instruments"`
	} `yaml:"venues"`
}

// LoadCatalog reads the instrument catalog served by QueryInstruments from a
// YAML file.
func (f *Facade) LoadCatalog(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc catalogFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("sim catalog: %w", err)
	}
	byVenue := make(map[string][]engine.Instrument)
	for _, v := range doc.Venues {
		for _, in := range v.Instruments {
			inst := engine.Instrument{ID: in.ID, Base: in.Base, Quote: in.Quote}
			if in.PriceStep != "" {
				step, err := decimal.NewFromString(in.PriceStep)
				if err != nil {
					return fmt.Errorf("sim catalog: instrument %s price_step: %w", in.ID, err)
				}
				inst.PriceStep = step
			}
			if in.QtyStep != "" {
				step, err := decimal.NewFromString(in.QtyStep)
				if err != nil {
					return fmt.Errorf("sim catalog: instrument %s qty_step: %w", in.ID, err)
				}
				inst.QtyStep = step
			}
			byVenue[v.ID] = append(byVenue[v.ID], inst)
		}
	}
	f.mu.Lock()
	f.instruments = byVenue
	f.mu.Unlock()
	return nil
}

// SetInstruments seeds the catalog for one venue directly.
func (f *Facade) SetInstruments(venueID string, list []engine.Instrument) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instruments[venueID] = list
}
