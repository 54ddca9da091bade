package llm

import "context"

// MockClient is a deterministic, network-free Client used by every
// other package's tests and by the USE_MOCK_LLM escape hatch for
// local development without provider credentials.
type MockClient struct {
	// Response is returned verbatim from Generate when Err is nil.
	Response *GenerateResult
	// Err, if set, is returned from Generate instead of Response.
	Err error
	// Calls records every request passed to Generate, for assertions.
	Calls []GenerateRequest
}

// Generate implements Client.
func (m *MockClient) Generate(_ context.Context, req GenerateRequest) (*GenerateResult, error) {
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Response != nil {
		return m.Response, nil
	}
	return &GenerateResult{
		Parsed:       map[string]any{},
		PromptHash:   hashText(req.Prompt),
		ResponseHash: hashText(""),
	}, nil
}
