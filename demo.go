package jwtx

// DemoIdentity holds the identity the demo token endpoint issues for.
type DemoIdentity struct {
	Subject  string
	UserData map[string]any
	Context  map[string]any
}

// Options converts the identity into issue options.
func (d DemoIdentity) Options() []IssueOption {
	return []IssueOption{
		WithUserData(cloneMap(d.UserData)),
		WithAgentContext(cloneMap(d.Context)),
	}
}

// ToCallerClaims converts the identity into caller claims flagged as demo.
func (d DemoIdentity) ToCallerClaims() CallerClaims {
	return CallerClaims{
		Claims: &Claims{
			Subject: d.Subject,
			Context: cloneMap(d.Context),
		},
		Demo: true,
	}
}

// DefaultDemoIdentity returns the identity used by the embedded chat demo.
func DefaultDemoIdentity() DemoIdentity {
	return DemoIdentity{
		Subject: "demo-user-123",
		UserData: map[string]any{
			"email":          "demo@example.com",
			"name":           "Demo User",
			"custom_message": "Encrypted message",
		},
		Context: map[string]any{
			"dev_id":    23424,
			"dev_name":  "Demo User",
			"is_active": true,
		},
	}
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
