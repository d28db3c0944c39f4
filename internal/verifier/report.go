package verifier

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Report is the persisted result of a verification run. C is the
// configuration recorded alongside the statistics: the verifier's own Config,
// or a wider run configuration that embeds it.
type Report[C any] struct {
	Configuration C          `yaml:"configuration" json:"configuration"`
	Statistics    Statistics `yaml:"statistics" json:"statistics"`
}

// Report finalizes the run and pairs the statistics with the configuration
// that produced them.
func (v *Verifier) Report() Report[Config] {
	return Report[Config]{Configuration: v.cfg, Statistics: v.Statistics()}
}

// WriteReport encodes r as YAML.
func WriteReport[C any](w io.Writer, r Report[C]) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("verifier: encode report: %w", err)
	}
	return enc.Close()
}

// ReadReport decodes a report written by WriteReport.
func ReadReport[C any](r io.Reader) (Report[C], error) {
	var rep Report[C]
	if err := yaml.NewDecoder(r).Decode(&rep); err != nil {
		return Report[C]{}, fmt.Errorf("verifier: decode report: %w", err)
	}
	return rep, nil
}
