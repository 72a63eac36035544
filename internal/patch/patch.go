package patch

// ApplyEnvelope parses and applies a `*** Begin Patch` envelope against
// workspace root in one transactional step. progress, if non-nil, is called
// once per operation as the patch is applied.
func ApplyEnvelope(root, envelope string, progress ProgressFunc) (*Result, error) {
	p, err := Parse(envelope)
	if err != nil {
		return nil, err
	}
	return New(root).Apply(p, progress)
}
