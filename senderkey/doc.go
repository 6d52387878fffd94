// Package senderkey implements the per-room sender-key ratchet: a
// symmetric chain seeded from the MLS epoch secret, used to encrypt and
// decrypt application payloads without touching the MLS tree on every
// message.
//
// Each leaf in a group gets its own ratchet. Encrypting with your own
// ratchet always advances it to the next generation; decrypting a peer's
// message advances that peer's ratchet forward, skipping any generations
// the sender already burned, but only within a bounded window — a peer
// claiming to be thousands of generations ahead is rejected rather than
// walked to, which would be an easy way to burn CPU.
//
//	store, _ := senderkey.NewStore(epoch, epochSecret, leafIndices, myLeaf, logger)
//	msg, _ := store.Encrypt(plaintext, rng)
//	plaintext, _ := store.Decrypt(msg)
package senderkey
