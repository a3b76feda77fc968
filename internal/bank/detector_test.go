package bank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectorOrder(t *testing.T) {
	codes := []string{}
	for _, a := range NewDetector().Adapters() {
		codes = append(codes, a.Code())
	}
	assert.Equal(t, []string{
		"bca_syariah", "bca", "mandiri_v2", "mandiri",
		"bni_v2", "bni", "bri", "cimb", "permata",
	}, codes)
}

// A statement mentioning both BCA SYARIAH and BCA must route to the Syariah
// adapter because it sits earlier in the ordered list.
func TestDetectSyariahBeforeBCA(t *testing.T) {
	text := `PT BCA SYARIAH
Laporan Mutasi Rekening
Kantor cabang BCA Jakarta`
	adapter, err := NewDetector().Detect(text)
	require.NoError(t, err)
	assert.Equal(t, "bca_syariah", adapter.Code())
}

func TestDetectGenericBCA(t *testing.T) {
	adapter, err := NewDetector().Detect("REKENING TAHAPAN\nKCU BCA SUDIRMAN")
	require.NoError(t, err)
	assert.Equal(t, "bca", adapter.Code())
}

func TestDetectMandiriV2BeforeV1(t *testing.T) {
	adapter, err := NewDetector().Detect("BANK MANDIRI E-STATEMENT\nPOSTING DATE | EFFECTIVE DATE")
	require.NoError(t, err)
	assert.Equal(t, "mandiri_v2", adapter.Code())

	adapter, err = NewDetector().Detect("PT BANK MANDIRI (PERSERO) Tbk\nRekening Koran")
	require.NoError(t, err)
	assert.Equal(t, "mandiri", adapter.Code())
}

func TestDetectBNIVariants(t *testing.T) {
	adapter, err := NewDetector().Detect("BNIDIRECT TRANSACTION REPORT")
	require.NoError(t, err)
	assert.Equal(t, "bni_v2", adapter.Code())

	adapter, err = NewDetector().Detect("PT BANK NEGARA INDONESIA\nTAPLUS BISNIS")
	require.NoError(t, err)
	assert.Equal(t, "bni", adapter.Code())
}

func TestDetectRemainingBanks(t *testing.T) {
	tests := map[string]string{
		"LAPORAN BRIMO\nBANK RAKYAT INDONESIA": "bri",
		"CIMB NIAGA OCTO STATEMENT":            "cimb",
		"PERMATABANK MUTASI REKENING":          "permata",
	}
	for text, want := range tests {
		adapter, err := NewDetector().Detect(text)
		require.NoError(t, err, text)
		assert.Equal(t, want, adapter.Code(), text)
	}
}

func TestDetectUnknownBank(t *testing.T) {
	_, err := NewDetector().Detect("some unrelated invoice text")
	assert.ErrorIs(t, err, ErrBankNotDetected)

	_, err = NewDetector().Detect("   ")
	assert.ErrorIs(t, err, ErrBankNotDetected)
}
