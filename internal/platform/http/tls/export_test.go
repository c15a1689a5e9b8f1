package tls

// Test hooks for exercising the challenge handler without an ACME server.

// InitProviderForTest installs an empty HTTP-01 provider.
func (m *ACMEManager) InitProviderForTest() error {
	m.provider = &HTTP01Provider{}
	return nil
}

// PresentForTest stores a challenge token directly in the provider.
func (m *ACMEManager) PresentForTest(token, keyAuth string) {
	m.provider.tokens.Store(token, keyAuth)
}
