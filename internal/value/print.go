package value

// SafeString renders v for diagnostics, tolerating a nil interface (which
// the reader and VM both use to mean "absent" in a few corners) without
// panicking the way v.String() would.
func SafeString(v Value) string {
	if v == nil {
		return "#n"
	}

	return v.String()
}
