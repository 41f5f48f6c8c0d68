package testutil

// FixedTokenGenerator returns the same session token every time.
//
// Deterministic tokens keep logs and golden traces byte-identical
// across runs. The production generator issues UUIDv7 tokens instead.
type FixedTokenGenerator struct {
	token string
}

// NewFixedTokenGenerator creates a generator for token. An empty token
// defaults to "test-session-default".
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-session-default"
	}
	return &FixedTokenGenerator{token: token}
}

// Generate returns the fixed token.
func (g *FixedTokenGenerator) Generate() string {
	return g.token
}
