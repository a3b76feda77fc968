package bank

import (
	"fmt"
	"strings"
)

// ErrBankNotDetected aborts rekening-koran processing when no adapter claims
// the statement.
var ErrBankNotDetected = fmt.Errorf("bank not detected from statement text")

// Detector walks an ordered adapter list and returns the first match.
// The order is significant: specific adapters (Mandiri V2, BNI V2, BCA
// Syariah) precede their generic peers, and ties go to the earlier entry.
type Detector struct {
	adapters []Adapter
}

// NewDetector builds the default ordered detector.
func NewDetector() *Detector {
	return &Detector{
		adapters: []Adapter{
			NewBCASyariahAdapter(),
			NewBCAAdapter(),
			NewMandiriV2Adapter(),
			NewMandiriAdapter(),
			NewBNIV2Adapter(),
			NewBNIAdapter(),
			NewBRIAdapter(),
			NewCIMBAdapter(),
			NewPermataAdapter(),
		},
	}
}

// Adapters exposes the ordered list, mainly for tests and diagnostics.
func (d *Detector) Adapters() []Adapter {
	return d.adapters
}

// Detect returns the first adapter whose keywords match the text, or
// ErrBankNotDetected.
func (d *Detector) Detect(text string) (Adapter, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrBankNotDetected
	}
	for _, a := range d.adapters {
		if a.Detect(text) {
			return a, nil
		}
	}
	return nil, ErrBankNotDetected
}
