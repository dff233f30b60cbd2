package entity

// Grant is what the web layer knows about a caller when it asks for an
// action to be dispatched.
type Grant struct {
	// Principal is the user on whose behalf the action runs. Zero for
	// machine callers.
	Principal Slug
	// Level is the permission the principal holds on the target project.
	Level Permission
	// CSRFVerified is set once the session's anti-forgery token matched.
	CSRFVerified bool
	// CapabilityToken is the single-use token presented with upload and
	// view flows.
	CapabilityToken string
	// BearerToken is presented by machine callers.
	BearerToken string
}
