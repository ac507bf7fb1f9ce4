package storage

import "context"

// Entry is one decoded record returned by range loads.
type Entry struct {
	Key   Key
	Value []byte
}

// Adapter maps the sync engine's hierarchical keys onto the flat Backend.
// It is the single chokepoint keeping ephemeral documents out of durable
// storage: every write against an eph: key is a silent no-op and every read
// comes back empty, so no caller discipline is needed.
type Adapter struct {
	backend Backend
}

func NewAdapter(b Backend) *Adapter {
	return &Adapter{backend: b}
}

// Save stores value under key.
func (a *Adapter) Save(ctx context.Context, key Key, value []byte) error {
	if key.ephemeral() {
		return nil
	}
	k, err := key.Encode()
	if err != nil {
		return err
	}
	return a.backend.Put(ctx, k, value)
}

// Load returns the value under key, or nil when absent.
func (a *Adapter) Load(ctx context.Context, key Key) ([]byte, error) {
	if key.ephemeral() {
		return nil, nil
	}
	k, err := key.Encode()
	if err != nil {
		return nil, err
	}
	return a.backend.Get(ctx, k)
}

// Remove deletes the value under key.
func (a *Adapter) Remove(ctx context.Context, key Key) error {
	if key.ephemeral() {
		return nil
	}
	k, err := key.Encode()
	if err != nil {
		return err
	}
	return a.backend.Delete(ctx, k)
}

// LoadRange returns the entry at prefix itself plus every entry strictly
// nested under it, in key order.
func (a *Adapter) LoadRange(ctx context.Context, prefix Key) ([]Entry, error) {
	if prefix.ephemeral() {
		return nil, nil
	}
	k, err := prefix.Encode()
	if err != nil {
		return nil, err
	}
	var out []Entry
	if exact, err := a.backend.Get(ctx, k); err != nil {
		return nil, err
	} else if exact != nil {
		out = append(out, Entry{Key: DecodeKey(k), Value: exact})
	}
	lo, hi := prefixRange(k)
	kvs, err := a.backend.List(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	for _, kv := range kvs {
		out = append(out, Entry{Key: DecodeKey(kv.Key), Value: kv.Value})
	}
	return out, nil
}

// RemoveRange deletes the entry at prefix and everything nested under it.
func (a *Adapter) RemoveRange(ctx context.Context, prefix Key) error {
	if prefix.ephemeral() {
		return nil
	}
	k, err := prefix.Encode()
	if err != nil {
		return err
	}
	if err := a.backend.Delete(ctx, k); err != nil {
		return err
	}
	lo, hi := prefixRange(k)
	return a.backend.DeleteRange(ctx, lo, hi)
}
