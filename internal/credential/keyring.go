package credential

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const serviceName = "mailingest"

// refPrefix marks a configuration value as a keyring reference.
const refPrefix = "keyring:"

// Store reads and writes secrets in a keyring.
type Store struct {
	ring keyring.Keyring
}

// Open returns a Store backed by the system keyring, falling back to an
// encrypted file under ~/.config/mailingest when no system backend exists.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailingest/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailingest-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// NewStore wraps an existing keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key string, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Resolve returns value unchanged unless it is a "keyring:<key>"
// reference, in which case the referenced secret is returned.
func (s *Store) Resolve(value string) (string, error) {
	key, ok := strings.CutPrefix(value, refPrefix)
	if !ok {
		return value, nil
	}
	return s.Get(key)
}

// IsRef reports whether value is a keyring reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, refPrefix)
}

// LoadToken reads an OAuth token stored as JSON under key.
func (s *Store) LoadToken(key string) (*oauth2.Token, error) {
	raw, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal([]byte(raw), tok); err != nil {
		return nil, fmt.Errorf("decoding token %q: %w", key, err)
	}
	return tok, nil
}

// SaveToken stores tok as JSON under key.
func (s *Store) SaveToken(key string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token %q: %w", key, err)
	}
	return s.Set(key, string(data))
}

// PersistingTokenSource wraps src and writes refreshed tokens back to
// the keyring so the next run starts from the newest refresh token.
func (s *Store) PersistingTokenSource(key string, src oauth2.TokenSource, last *oauth2.Token) oauth2.TokenSource {
	return &persistingSource{store: s, key: key, src: src, last: last}
}

type persistingSource struct {
	store *Store
	key   string
	src   oauth2.TokenSource
	last  *oauth2.Token
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	if p.last == nil || tok.AccessToken != p.last.AccessToken {
		if err := p.store.SaveToken(p.key, tok); err != nil {
			return nil, err
		}
		p.last = tok
	}
	return tok, nil
}
