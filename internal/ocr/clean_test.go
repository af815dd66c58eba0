package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitreceipt/receipt-split-service/internal/models"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"split dollar amount", "AGLIO OLIO $64.\n49", "AGLIO OLIO $64.49"},
		{"split plain amount", "Coke 3.\n49", "Coke 3.49"},
		{"split quantity", "2\nAGLIO OLIO $64.49", "2 AGLIO OLIO $64.49"},
		{"quantity after a line", "Coke 3.50\n1\nTeh 2.00", "Coke 3.50\n1 Teh 2.00"},
		{"double decimal point", "TOTAL $3.26.80", "TOTAL $326.80"},
		{"uppercase noise line", "THANKYOU\nCoke 3.50\nXXXXXXX", "Coke 3.50"},
		{"short caps kept", "SST 6% $4.05\nTAX", "SST 6% $4.05\nTAX"},
		{"caps with spaces kept", "AGLIO OLIO 64.49\nTHANK YOU", "AGLIO OLIO 64.49\nTHANK YOU"},
		{"spacing and blank lines", "  Coke    3.50  \r\n\n\n\tTeh\t\t2.00 ", "Coke 3.50\nTeh 2.00"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

type stubEngine struct {
	text string
	err  error
}

func (s stubEngine) Name() string { return "stub" }

func (s stubEngine) ExtractText(_ context.Context, _ []byte) (string, error) {
	return s.text, s.err
}

func TestReader(t *testing.T) {
	r := NewReader(stubEngine{text: "2\nAGLIO OLIO $64.\n49\n"}, nil)
	raw, cleaned, err := r.Read(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "2\nAGLIO OLIO $64.\n49\n", raw)
	assert.Equal(t, "2 AGLIO OLIO $64.49", cleaned)

	r = NewReader(stubEngine{err: errors.New("boom")}, NewPreprocessor(false))
	_, _, err = r.Read(context.Background(), []byte("img"))
	assert.ErrorContains(t, err, "stub OCR")
}

func TestNewEngine(t *testing.T) {
	e, err := NewEngine(context.Background(), models.OCRConfig{})
	require.NoError(t, err)
	assert.Equal(t, "tesseract", e.Name())

	_, err = NewEngine(context.Background(), models.OCRConfig{Engine: "abbyy"})
	assert.Error(t, err)
}

func TestPreprocessDisabled(t *testing.T) {
	img := []byte{0xff, 0xd8, 0xff}
	assert.Equal(t, img, NewPreprocessor(false).Preprocess(context.Background(), img))
}
