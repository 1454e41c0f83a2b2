package keystore

// Zero overwrites b with zeros
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// WithPassphrase hands passphrase to fn and zeroes it before returning,
// on every exit path including panics.
func WithPassphrase(passphrase []byte, fn func(passphrase []byte) error) error {
	defer Zero(passphrase)
	return fn(passphrase)
}
