package securekit

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/averagepojke/securekit/internal"
	"github.com/averagepojke/securekit/store"
)

const entityBackup = "backup"

type backupCode struct {
	Hash   string     `json:"hash"`
	Used   bool       `json:"used"`
	UsedAt *time.Time `json:"used_at,omitempty"`
}

type backupCodeSet struct {
	UserID      string       `json:"user_id"`
	Codes       []backupCode `json:"codes"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// backupCodeManager issues and consumes single-use fallback codes. Only
// user-salted hashes are persisted; the plaintext batch is returned once at
// generation time and never stored.
type backupCodeManager struct {
	store  *store.Store
	clock  Clock
	ns     string
	config BackupConfig
}

func newBackupCodeManager(st *store.Store, clock Clock, namespace string, cfg BackupConfig) *backupCodeManager {
	return &backupCodeManager{store: st, clock: clock, ns: namespace, config: cfg}
}

func (m *backupCodeManager) key(userID string) store.Key {
	return store.Key{Namespace: m.ns, Entity: entityBackup, ID: userID}
}

// generate replaces the whole set: previously issued codes, used or not,
// stop verifying the moment the new set is stored.
func (m *backupCodeManager) generate(ctx context.Context, userID string) ([]string, error) {
	plain := make([]string, 0, m.config.Count)
	hashed := make([]backupCode, 0, m.config.Count)
	for i := 0; i < m.config.Count; i++ {
		code, err := internal.NumericCode(m.config.Digits)
		if err != nil {
			return nil, err
		}
		plain = append(plain, code)
		hashed = append(hashed, backupCode{Hash: backupCodeHash(userID, code)})
	}

	set := backupCodeSet{
		UserID:      userID,
		Codes:       hashed,
		GeneratedAt: m.clock.Now(),
	}
	if err := m.store.Set(ctx, m.key(userID), set, store.SetOptions{}); err != nil {
		return nil, err
	}
	return plain, nil
}

// verify consumes the matching unused code. A used code never verifies
// again.
func (m *backupCodeManager) verify(ctx context.Context, userID, code string) error {
	var set backupCodeSet
	found, err := m.store.Get(ctx, m.key(userID), &set)
	if err != nil {
		return err
	}
	if !found || len(set.Codes) == 0 {
		return ErrNotProvisioned
	}

	hash := backupCodeHash(userID, canonicalizeBackupCode(code))
	for i := range set.Codes {
		if set.Codes[i].Used {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(set.Codes[i].Hash), []byte(hash)) == 1 {
			now := m.clock.Now()
			set.Codes[i].Used = true
			set.Codes[i].UsedAt = &now
			return m.store.Set(ctx, m.key(userID), set, store.SetOptions{})
		}
	}
	return ErrVerificationFailed
}

// remaining counts unused codes, for event metadata.
func (m *backupCodeManager) remaining(ctx context.Context, userID string) (int, error) {
	var set backupCodeSet
	found, err := m.store.Get(ctx, m.key(userID), &set)
	if err != nil || !found {
		return 0, err
	}
	n := 0
	for _, c := range set.Codes {
		if !c.Used {
			n++
		}
	}
	return n, nil
}

func (m *backupCodeManager) remove(ctx context.Context, userID string) error {
	return m.store.Remove(ctx, m.key(userID))
}

// canonicalizeBackupCode strips the separators users commonly paste along
// with a code.
func canonicalizeBackupCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}

// backupCodeHash salts with the user ID so identical codes issued to
// different users never share a stored hash.
func backupCodeHash(userID, code string) string {
	sum := sha256.Sum256([]byte(userID + ":" + code))
	return hex.EncodeToString(sum[:])
}
