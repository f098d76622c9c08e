package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finrecon/internal/model"
)

func marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, eris.Wrap(err, "store: marshal")
}

func unmarshalFact(data []byte) (model.LineItemFact, error) {
	var f model.LineItemFact
	err := json.Unmarshal(data, &f)
	return f, eris.Wrap(err, "store: unmarshal fact")
}

func unmarshalSnapshot(data []byte) (*model.ExtractionSnapshot, error) {
	var s model.ExtractionSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal snapshot")
	}
	return &s, nil
}

func unmarshalCached(data []byte) (*model.CachedExtraction, error) {
	var c model.CachedExtraction
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal cached extraction")
	}
	return &c, nil
}

func unmarshalInputs(data []byte) (map[string]float64, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var in map[string]float64
	err := json.Unmarshal(data, &in)
	return in, eris.Wrap(err, "store: unmarshal metric inputs")
}
