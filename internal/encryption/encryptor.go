package encryption

import "io"

// Encryptor protects the API credential at rest. Setup is a one-time key
// generation; Encrypt needs only the public recipient, Decrypt needs the
// private identity.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `config init`.
	// Generating over an existing key pair is an error.
	Setup() error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Decrypt decrypts data read from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error

	// IsConfigured returns true if the key material exists.
	IsConfigured() bool
}
