package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Op labels a store operation for the [OpObserver].
type Op string

// Operation labels reported to the observer.
const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpRemove Op = "remove"
	OpList   Op = "list"
)

// OpObserver receives a notification after every store operation. err is nil
// on success. Observers run synchronously on the calling goroutine and must
// not call back into the store while holding their own locks; they can never
// fail an operation.
type OpObserver func(op Op, rawKey string, err error)

// SetOptions controls a single [Store.Set]. Records are sensitive (sealed by
// the codec) unless Plain is set.
type SetOptions struct {
	// ExpiresIn, when positive, stamps the record's expiry and mirrors it
	// into the backend TTL.
	ExpiresIn time.Duration
	// Plain skips the codec for records that carry nothing sensitive.
	Plain bool
}

// IntegrityReport is returned by [Store.VerifyIntegrity].
type IntegrityReport struct {
	Total     int
	Corrupted int
}

// Store is the keyed expiring record store. It is safe for concurrent use;
// namespace-disjoint keys never interact, and same-key concurrent writes are
// last-write-wins.
type Store struct {
	backend  Backend
	codec    Codec
	now      func() time.Time
	observer OpObserver
}

// NewStore builds a store over the given backend and codec. A nil codec is
// allowed only when every write sets SetOptions.Plain.
func NewStore(backend Backend, codec Codec) *Store {
	return &Store{
		backend: backend,
		codec:   codec,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Call before first use.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetObserver installs the operation observer. Call before first use.
func (s *Store) SetObserver(fn OpObserver) {
	s.observer = fn
}

func (s *Store) notify(op Op, rawKey string, err error) {
	if s.observer != nil {
		s.observer(op, rawKey, err)
	}
}

// Set wraps value in a [Record] stamped at the store clock and writes it.
func (s *Store) Set(ctx context.Context, key Key, value any, opts SetOptions) error {
	raw, err := json.Marshal(value)
	if err != nil {
		err = fmt.Errorf("marshal record value: %w", err)
		s.notify(OpSet, key.String(), err)
		return err
	}

	now := s.now()
	rec := Record{
		Namespace: key.Namespace,
		Key:       key.String(),
		CreatedAt: now,
	}
	if opts.ExpiresIn > 0 {
		exp := now.Add(opts.ExpiresIn)
		rec.ExpiresAt = &exp
	}

	if opts.Plain || s.codec == nil {
		rec.Value = raw
	} else {
		sealed, err := s.codec.Seal(key.Namespace, raw)
		if err != nil {
			s.notify(OpSet, key.String(), err)
			return err
		}
		rec.Encoded = true
		rec.Sealed = sealed
	}

	payload, err := json.Marshal(&rec)
	if err != nil {
		s.notify(OpSet, key.String(), err)
		return err
	}

	err = s.backend.Set(ctx, key.String(), string(payload), opts.ExpiresIn)
	s.notify(OpSet, key.String(), err)
	return err
}

// Get reads a record into out, which may be nil to test bare existence. It
// fails closed: a raw value that cannot be parsed or unsealed is evicted and
// reported absent with no error, and an expired record is evicted the same
// way. Only backend transport failures surface as errors.
func (s *Store) Get(ctx context.Context, key Key, out any) (bool, error) {
	raw, found, err := s.backend.Get(ctx, key.String())
	if err != nil {
		s.notify(OpGet, key.String(), err)
		return false, err
	}
	if !found {
		s.notify(OpGet, key.String(), nil)
		return false, nil
	}

	plaintext, ok := s.openRecord(ctx, key, raw)
	if !ok {
		return false, nil
	}

	if out != nil {
		if err := json.Unmarshal(plaintext, out); err != nil {
			s.evictCorrupt(ctx, key, fmt.Errorf("unmarshal record value: %w", err))
			return false, nil
		}
	}

	s.notify(OpGet, key.String(), nil)
	return true, nil
}

// openRecord parses, expiry-checks, and unseals a raw record. A false return
// means the record was evicted (corrupt or expired) and must be treated as
// absent.
func (s *Store) openRecord(ctx context.Context, key Key, raw string) ([]byte, bool) {
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.evictCorrupt(ctx, key, fmt.Errorf("parse record envelope: %w", err))
		return nil, false
	}

	if rec.Expired(s.now()) {
		// Eviction is idempotent; the backend TTL may already have fired.
		_ = s.backend.Remove(ctx, key.String())
		s.notify(OpGet, key.String(), nil)
		return nil, false
	}

	if !rec.Encoded {
		return rec.Value, true
	}
	if s.codec == nil {
		s.evictCorrupt(ctx, key, errCodecOpen)
		return nil, false
	}
	plaintext, err := s.codec.Open(key.Namespace, rec.Sealed)
	if err != nil {
		s.evictCorrupt(ctx, key, err)
		return nil, false
	}
	return plaintext, true
}

func (s *Store) evictCorrupt(ctx context.Context, key Key, cause error) {
	_ = s.backend.Remove(ctx, key.String())
	s.notify(OpGet, key.String(), cause)
}

// Remove deletes a record. Removing an absent record is not an error.
func (s *Store) Remove(ctx context.Context, key Key) error {
	err := s.backend.Remove(ctx, key.String())
	s.notify(OpRemove, key.String(), err)
	return err
}

// List returns the typed keys of every record of an entity type within a
// namespace. Raw keys that do not parse are skipped; VerifyIntegrity is the
// path that cleans those up.
func (s *Store) List(ctx context.Context, namespace, entity string) ([]Key, error) {
	rawKeys, err := s.backend.ListKeys(ctx, Prefix(namespace, entity))
	s.notify(OpList, Prefix(namespace, entity), err)
	if err != nil {
		return nil, err
	}

	keys := make([]Key, 0, len(rawKeys))
	for _, raw := range rawKeys {
		k, err := ParseKey(raw)
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// VerifyIntegrity scans every record in the namespace, evicts any that fail
// to parse or unseal, and reports the totals. Expired records are evicted but
// not counted as corrupted.
func (s *Store) VerifyIntegrity(ctx context.Context, namespace string) (IntegrityReport, error) {
	rawKeys, err := s.backend.ListKeys(ctx, Prefix(namespace, ""))
	if err != nil {
		s.notify(OpList, Prefix(namespace, ""), err)
		return IntegrityReport{}, err
	}

	report := IntegrityReport{Total: len(rawKeys)}
	for _, rawKey := range rawKeys {
		key, kerr := ParseKey(rawKey)
		if kerr != nil {
			_ = s.backend.Remove(ctx, rawKey)
			report.Corrupted++
			continue
		}

		raw, found, gerr := s.backend.Get(ctx, rawKey)
		if gerr != nil {
			return report, gerr
		}
		if !found {
			continue
		}

		var rec Record
		if jerr := json.Unmarshal([]byte(raw), &rec); jerr != nil {
			_ = s.backend.Remove(ctx, rawKey)
			report.Corrupted++
			continue
		}
		if rec.Expired(s.now()) {
			_ = s.backend.Remove(ctx, rawKey)
			continue
		}
		if rec.Encoded && s.codec != nil {
			if _, oerr := s.codec.Open(key.Namespace, rec.Sealed); oerr != nil {
				_ = s.backend.Remove(ctx, rawKey)
				report.Corrupted++
			}
		}
	}
	return report, nil
}
