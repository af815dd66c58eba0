package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitreceipt/receipt-split-service/internal/models"
	"github.com/splitreceipt/receipt-split-service/internal/split"
)

type fakeReader struct {
	cleaned string
	err     error
}

func (f fakeReader) Read(_ context.Context, _ []byte) (string, string, error) {
	return f.cleaned, f.cleaned, f.err
}

type fakeExtractor struct {
	ext   *models.Extraction
	err   error
	calls int
	text  string
	image string
}

func (f *fakeExtractor) Extract(_ context.Context, ocrText string, imageBase64 string) (*models.Extraction, float64, error) {
	f.calls++
	f.text = ocrText
	f.image = imageBase64
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.ext, 0.5, nil
}

const aglioText = "2 AGLIO OLIO $64.49\n1 Coke $3.50\nXmas Special $2.00\nSST 6% $4.05"

func aglioExtraction() *models.Extraction {
	return &models.Extraction{
		Items: []models.ExtractedItem{
			{Name: "AGLIO OLIO", Quantity: dec("2"), TotalPrice: dec("64.49")},
			{Name: "Coke", Quantity: dec("1"), TotalPrice: dec("3.50")},
		},
	}
}

func TestProcessTextWithExtraction(t *testing.T) {
	fx := &fakeExtractor{}
	p := NewPipeline(nil, fx, nil, nil)

	out, err := p.ProcessText(context.Background(), aglioText, aglioExtraction(), "", SplitRequest{
		Participants: []string{"Alice", "Bob"},
		Mode:         split.ModeItem,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, fx.calls)

	r := out.Receipt
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, aglioText, r.OCRText)
	assert.True(t, r.Ledger.ComputedTotal.Equal(dec("70.04")), r.Ledger.ComputedTotal.String())
	assert.Empty(t, r.Warnings)
	assert.Nil(t, r.PrintedTotal)

	require.NotNil(t, r.Split)
	assert.Equal(t, split.ModeItem, r.Split.Mode)
	assert.Equal(t, []string{"Alice", "Bob"}, r.Split.Participants)
	assert.True(t, r.Split.Total.Equal(dec("70.04")), r.Split.Total.String())
}

func TestProcessTextWithRawResponse(t *testing.T) {
	raw := "```json\n" + `{"items":[{"name":"Coke","qty":1,"unit_price":3.5,"total_price":3.5}],"taxes":[],"service_charge":null,"discounts":[],"currency":"$"}` + "\n```"
	p := NewPipeline(nil, nil, nil, nil)

	out, err := p.ProcessText(context.Background(), "1 Coke $3.50", nil, raw, SplitRequest{
		ParticipantCount: 2,
		Mode:             split.ModeEven,
	})
	require.NoError(t, err)

	amounts := out.Receipt.Split.Amounts()
	require.Len(t, amounts, 2)
	assert.True(t, amounts["P1"].Equal(dec("1.75")))
	assert.True(t, amounts["P2"].Equal(dec("1.75")))
}

func TestProcessTextCallsExtractor(t *testing.T) {
	fx := &fakeExtractor{ext: aglioExtraction()}
	p := NewPipeline(nil, fx, nil, nil)

	out, err := p.ProcessText(context.Background(), aglioText, nil, "", SplitRequest{Mode: split.ModeEven})
	require.NoError(t, err)
	assert.Equal(t, 1, fx.calls)
	assert.Equal(t, aglioText, fx.text)
	assert.Empty(t, fx.image)
	assert.Equal(t, 0.5, out.AIDuration)

	_, err = NewPipeline(nil, nil, nil, nil).ProcessText(context.Background(), aglioText, nil, "", SplitRequest{Mode: split.ModeEven})
	assert.ErrorIs(t, err, ErrNoExtractor)
}

func TestProcessImage(t *testing.T) {
	tests := []struct {
		name      string
		reader    TextReader
		extractor *fakeExtractor
		useVision bool
		validate  func(t *testing.T, fx *fakeExtractor, out *Outcome, err error)
	}{
		{
			name:      "ocr text feeds the extractor",
			reader:    fakeReader{cleaned: aglioText},
			extractor: &fakeExtractor{ext: aglioExtraction()},
			validate: func(t *testing.T, fx *fakeExtractor, out *Outcome, err error) {
				require.NoError(t, err)
				assert.Equal(t, aglioText, fx.text)
				assert.Empty(t, fx.image)
				assert.True(t, out.Receipt.Ledger.ComputedTotal.Equal(dec("70.04")))
			},
		},
		{
			name:      "vision sends the image",
			reader:    fakeReader{cleaned: aglioText},
			extractor: &fakeExtractor{ext: aglioExtraction()},
			useVision: true,
			validate: func(t *testing.T, fx *fakeExtractor, out *Outcome, err error) {
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(fx.image, "data:image/jpeg;base64,"))
			},
		},
		{
			name:      "vision without ocr",
			extractor: &fakeExtractor{ext: aglioExtraction()},
			useVision: true,
			validate: func(t *testing.T, fx *fakeExtractor, out *Outcome, err error) {
				require.NoError(t, err)
				assert.Empty(t, fx.text)
				assert.Len(t, out.Receipt.Ledger.Items, 3)
			},
		},
		{
			name:      "no reader",
			extractor: &fakeExtractor{ext: aglioExtraction()},
			validate: func(t *testing.T, fx *fakeExtractor, out *Outcome, err error) {
				assert.ErrorIs(t, err, ErrNoReader)
				assert.Equal(t, 0, fx.calls)
			},
		},
		{
			name:      "ocr failure",
			reader:    fakeReader{err: errors.New("tesseract missing")},
			extractor: &fakeExtractor{ext: aglioExtraction()},
			validate: func(t *testing.T, fx *fakeExtractor, out *Outcome, err error) {
				assert.ErrorContains(t, err, "tesseract missing")
				assert.Equal(t, 0, fx.calls)
			},
		},
		{
			name:      "extraction failure",
			reader:    fakeReader{cleaned: aglioText},
			extractor: &fakeExtractor{err: errors.New("AI extraction failed: 503")},
			validate: func(t *testing.T, fx *fakeExtractor, out *Outcome, err error) {
				assert.ErrorContains(t, err, "503")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(tt.reader, tt.extractor, nil, nil)
			out, err := p.ProcessImage(context.Background(), []byte{0xff, 0xd8}, tt.useVision, SplitRequest{Mode: split.ModeItem})
			tt.validate(t, tt.extractor, out, err)
		})
	}
}

func TestBuildReportsPrintedTotalMismatch(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil)
	ext := models.Extraction{Items: []models.ExtractedItem{{Name: "Coke", Quantity: dec("1"), TotalPrice: dec("3.50")}}}

	out, err := p.Build("1 Coke $3.50\nTOTAL $5.00", ext, SplitRequest{Mode: split.ModeEven})
	require.NoError(t, err)

	r := out.Receipt
	require.NotNil(t, r.PrintedTotal)
	assert.True(t, r.PrintedTotal.Equal(dec("5.00")))
	assert.True(t, r.Ledger.ComputedTotal.Equal(dec("3.50")))
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "differs from printed total")
}

func TestBuildSplitErrors(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil)

	_, err := p.Build(aglioText, *aglioExtraction(), SplitRequest{Mode: "shares"})
	assert.ErrorIs(t, err, split.ErrUnknownMode)

	_, err = p.Build(aglioText, *aglioExtraction(), SplitRequest{
		Mode:        split.ModeItem,
		Assignments: map[int][]string{7: {"Alice"}},
	})
	assert.ErrorIs(t, err, split.ErrBadAssignment)

	out, err := p.Build(aglioText, *aglioExtraction(), SplitRequest{
		Participants: []string{"Alice", "Bob"},
		Mode:         split.ModeItem,
		Assignments:  map[int][]string{2: {"Bob"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, out.Receipt.Ledger.Items[2].AssignedTo)
}

func TestSplitNilLedger(t *testing.T) {
	res, err := Split(nil, SplitRequest{ParticipantCount: 3, Mode: split.ModeEven})
	require.NoError(t, err)
	assert.Len(t, res.Shares, 3)
	assert.True(t, res.Total.IsZero())
}
