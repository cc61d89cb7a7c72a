package capsule

// Settings is the persisted user settings record.
type Settings struct {
	// AgentProxyURL is the configured agent endpoint. Defaulted by the
	// store when the record is absent or malformed.
	AgentProxyURL string `json:"agentProxyUrl"`
}
