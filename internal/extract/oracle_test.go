package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finrecon/internal/config"
	"github.com/sells-group/finrecon/internal/fetcher"
	"github.com/sells-group/finrecon/internal/loader"
	"github.com/sells-group/finrecon/internal/model"
	"github.com/sells-group/finrecon/internal/resilience"
	"github.com/sells-group/finrecon/internal/telemetry"
	"github.com/sells-group/finrecon/pkg/anthropic"
)

const pdfReply = "```json\n" + `{
  "file_type": "pdf",
  "period": "Q2 2024",
  "pdf": {"line_items": [{"label": "ARR", "value": "1.2m", "page": 2}]}
}` + "\n```"

func testConfig() config.AnthropicConfig {
	return config.AnthropicConfig{Model: "claude-sonnet-4-5-20250929", MaxTokens: 4096}
}

func fastOracle(client anthropic.Client, opts ...Option) *ClaudeOracle {
	opts = append([]Option{
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
		WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{Name: "test", FailureThreshold: 10})),
	}, opts...)
	return NewClaudeOracle(client, testConfig(), opts...)
}

func pdfDoc(pages ...string) *loader.Document {
	return &loader.Document{
		Filename: "Q2 2024 Board Deck.pdf",
		FileType: model.FileTypePDF,
		Data:     []byte("%PDF-1.7"),
		Pages:    pages,
	}
}

func TestExtract_PDFText(t *testing.T) {
	t.Parallel()

	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-sonnet-4-5-20250929" &&
			req.MaxTokens == 4096 &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 &&
			req.Messages[0].PDF == nil &&
			strings.Contains(req.Messages[0].Content, "--- Page 2 ---\nARR $1.2m")
	})).Return(textResponse(pdfReply), nil).Once()

	metrics := telemetry.New()
	o := fastOracle(client, WithMetrics(metrics))
	r, err := o.Extract(context.Background(), pdfDoc("Cover", "ARR $1.2m"))
	require.NoError(t, err)
	assert.Equal(t, model.FileTypePDF, r.FileType)
	assert.Equal(t, "Q2 2024", r.Period)
	assert.Equal(t, 1, r.LineItemCount())
	assert.Equal(t, int64(1000), o.Usage().InputTokens)
	client.AssertExpectations(t)
}

func TestExtract_ScannedPDFAttachesDocument(t *testing.T) {
	t.Parallel()

	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return string(req.Messages[0].PDF) == "%PDF-1.7"
	})).Return(textResponse(pdfReply), nil).Once()

	_, err := fastOracle(client).Extract(context.Background(), pdfDoc("", "  "))
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestExtract_XLSX(t *testing.T) {
	t.Parallel()

	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(
		`Here you go: {"file_type": "xlsx", "xlsx": {"line_items": [{"label": "Revenue", "value": 1000, "sheet": "P&L", "cell": "B2"}]}} Thanks`,
	), nil)

	doc := &loader.Document{
		Filename: "model.xlsx",
		FileType: model.FileTypeXLSX,
		Sheets:   []fetcher.Sheet{{Name: "P&L", Cells: []fetcher.Cell{{Ref: "A2", Row: 1, Value: "Revenue"}, {Ref: "B2", Row: 1, Col: 1, Value: "1000"}}}},
	}
	r, err := fastOracle(client).Extract(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, r.XLSX)
	assert.Equal(t, "B2", r.XLSX.LineItems[0].Cell)
}

func TestExtract_RetriesTransient(t *testing.T) {
	t.Parallel()

	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, &anthropic.APIError{StatusCode: 529, Err: errors.New("overloaded")}).Twice()
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(pdfReply), nil).Once()

	_, err := fastOracle(client).Extract(context.Background(), pdfDoc("ARR 1.2m"))
	require.NoError(t, err)
	client.AssertNumberOfCalls(t, "CreateMessage", 3)
}

func TestExtract_PermanentAPIErrorNotRetried(t *testing.T) {
	t.Parallel()

	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, &anthropic.APIError{StatusCode: 400, Err: errors.New("bad request")})

	_, err := fastOracle(client).Extract(context.Background(), pdfDoc("ARR 1.2m"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Q2 2024 Board Deck.pdf")
	client.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestExtract_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp *anthropic.MessageResponse
	}{
		{"not json", textResponse("I could not find any numbers.")},
		{"wrong variant", textResponse(`{"file_type": "pdf", "xlsx": {"line_items": []}}`)},
		{"file type mismatch", textResponse(`{"file_type": "xlsx", "xlsx": {"line_items": []}}`)},
		{"truncated", &anthropic.MessageResponse{StopReason: "max_tokens", Content: []anthropic.ContentBlock{{Type: "text", Text: "{"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := new(mockClient)
			client.On("CreateMessage", mock.Anything, mock.Anything).Return(tt.resp, nil)

			_, err := fastOracle(client).Extract(context.Background(), pdfDoc("ARR 1.2m"))
			assert.ErrorIs(t, err, ErrMalformed)
			client.AssertNumberOfCalls(t, "CreateMessage", 1)
		})
	}
}

func TestExtract_BreakerOpen(t *testing.T) {
	t.Parallel()

	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("503"), 503))

	o := NewClaudeOracle(client, testConfig(),
		WithRetry(resilience.RetryConfig{MaxAttempts: 1}),
		WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{Name: "test", FailureThreshold: 1, Cooldown: time.Hour})),
	)
	_, err := o.Extract(context.Background(), pdfDoc("x"))
	require.Error(t, err)

	_, err = o.Extract(context.Background(), pdfDoc("x"))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	client.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestCleanJSON(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{"a":1}`, cleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":{"b":2}}`, cleanJSON(`Sure! {"a":{"b":2}} hope that helps`))
	assert.Equal(t, "no json", cleanJSON("  no json "))
}

func TestUserPrompt(t *testing.T) {
	t.Parallel()

	p := userPrompt(pdfDoc("ARR 1.2m"))
	assert.Contains(t, p, "File: Q2 2024 Board Deck.pdf")
	assert.Contains(t, p, "file_type: pdf")
	assert.Contains(t, p, "ARR 1.2m")

	p = userPrompt(pdfDoc())
	assert.Contains(t, p, "no text layer")
}
