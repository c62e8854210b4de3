// Package storage provides the enrolled reference embeddings used for matching.
// The store is loaded once at startup and never mutated afterwards. Files may be
// sealed at rest using NaCl secretbox with a machine-bound key.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/recognition"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// ErrStoreNotFound is returned when the reference file does not exist.
var ErrStoreNotFound = errors.New("reference store not found")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// ErrInvalidStore is returned when the reference file is structurally invalid.
var ErrInvalidStore = errors.New("invalid reference store")

// storeFile is the on-disk layout written by the enrollment job:
// parallel arrays of labels and embeddings.
type storeFile struct {
	Names     []string    `json:"names"`
	Encodings [][]float32 `json:"encodings"`
}

// EmbeddingStore is an immutable, ordered set of reference entries.
type EmbeddingStore struct {
	entries   []recognition.ReferenceEntry
	dimension int
}

// NewEmbeddingStore validates entries and builds a store preserving their order.
// All embeddings must share one dimension and every label must be non-empty.
func NewEmbeddingStore(entries []recognition.ReferenceEntry) (*EmbeddingStore, error) {
	store := &EmbeddingStore{entries: make([]recognition.ReferenceEntry, 0, len(entries))}

	for i, e := range entries {
		label := strings.TrimSpace(e.Label)
		if label == "" {
			return nil, fmt.Errorf("%w: entry %d has an empty label", ErrInvalidStore, i)
		}
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("%w: entry %d (%s) has an empty embedding", ErrInvalidStore, i, label)
		}
		if store.dimension == 0 {
			store.dimension = len(e.Embedding)
		} else if len(e.Embedding) != store.dimension {
			return nil, fmt.Errorf("%w: entry %d (%s) has dimension %d, expected %d",
				ErrInvalidStore, i, label, len(e.Embedding), store.dimension)
		}

		store.entries = append(store.entries, recognition.ReferenceEntry{
			Label:     label,
			Embedding: append(recognition.Embedding(nil), e.Embedding...),
		})
	}

	return store, nil
}

// Entries returns the reference entries in insertion order.
// The returned slice is shared and must not be modified.
func (s *EmbeddingStore) Entries() []recognition.ReferenceEntry {
	return s.entries
}

// Len returns the number of reference entries.
func (s *EmbeddingStore) Len() int {
	return len(s.entries)
}

// Dimension returns the embedding length, or 0 for an empty store.
func (s *EmbeddingStore) Dimension() int {
	return s.dimension
}

// Labels returns the distinct labels in first-seen order with their photo counts.
func (s *EmbeddingStore) Labels() ([]string, map[string]int) {
	counts := make(map[string]int)
	var labels []string
	for _, e := range s.entries {
		if counts[e.Label] == 0 {
			labels = append(labels, e.Label)
		}
		counts[e.Label]++
	}
	return labels, counts
}

// Load reads a reference store from path, decrypting it when encrypted is set.
func Load(path string, encrypted bool) (*EmbeddingStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, path)
		}
		return nil, fmt.Errorf("failed to read reference store: %w", err)
	}

	if encrypted {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		data, err = decrypt(data, &key)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt reference store: %w", err)
		}
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStore, err)
	}
	if len(file.Names) != len(file.Encodings) {
		return nil, fmt.Errorf("%w: %d names but %d encodings", ErrInvalidStore, len(file.Names), len(file.Encodings))
	}

	entries := make([]recognition.ReferenceEntry, len(file.Names))
	for i := range file.Names {
		entries[i] = recognition.ReferenceEntry{Label: file.Names[i], Embedding: file.Encodings[i]}
	}

	store, err := NewEmbeddingStore(entries)
	if err != nil {
		return nil, err
	}

	log := logging.Component("storage")
	if store.Len() == 0 {
		log.Warnf("Reference store %s is empty; every face will be unknown", path)
	} else {
		labels, _ := store.Labels()
		log.Infof("Loaded %d reference embeddings for %d identities from %s", store.Len(), len(labels), path)
	}
	return store, nil
}

// Save writes the store to path, sealing it when encrypted is set.
func Save(path string, store *EmbeddingStore, encrypted bool) error {
	file := storeFile{
		Names:     make([]string, store.Len()),
		Encodings: make([][]float32, store.Len()),
	}
	for i, e := range store.entries {
		file.Names[i] = e.Label
		file.Encodings[i] = e.Embedding
	}

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal reference store: %w", err)
	}

	if encrypted {
		key, err := deriveKey()
		if err != nil {
			return fmt.Errorf("failed to derive encryption key: %w", err)
		}
		data, err = encrypt(data, &key)
		if err != nil {
			return fmt.Errorf("failed to encrypt reference store: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write reference store: %w", err)
	}

	logging.Component("storage").Debugf("Saved %d reference embeddings to %s", store.Len(), path)
	return nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties sealed stores to this specific machine and user.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("rollcall-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])

	return key, nil
}

// encrypt seals plaintext with a random nonce prepended to the output.
func encrypt(plaintext []byte, key *[KeySize]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// decrypt opens a box produced by encrypt.
func decrypt(ciphertext []byte, key *[KeySize]byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, key)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
