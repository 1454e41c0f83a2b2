/*
Package keystore holds the agent signing keys used for zome calls.

A keystore is a directory of sealed ed25519 keys, one file per agent, named
after the agent's multibase public key. Key seeds are sealed with
AES-256-GCM under a key derived from the node passphrase with argon2id; the
public key is bound into each file as additional authenticated data.

The host runtime and the node share the directory: the host mints agent keys
through its admin endpoint and the node signs calls with them. Lookups miss
the in-memory cache, read the file and cache the unlocked key.

Passphrases are handled with WithPassphrase, which zeroes the buffer before
returning on every path:

	err := keystore.WithPassphrase(pass, func(p []byte) error {
		ks, err = keystore.Open(root, p, true)
		return err
	})
*/
package keystore
