package paychmgr

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dsq "github.com/ipfs/go-datastore/query"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/venus-statechannel/pkg/chanstate"
)

// Store keeps channel records in a datastore namespace. Get returns a fresh
// decoded copy, so callers cannot mutate stored state through it; writes go
// through Put.
type Store struct {
	ds datastore.Datastore
}

// NewStore wraps ds under the /channels/ namespace.
func NewStore(ds datastore.Batching) *Store {
	return &Store{
		ds: namespace.Wrap(ds, datastore.NewKey("/channels/")),
	}
}

func dskeyForChannel(id chanstate.Hash) datastore.Key {
	return datastore.NewKey(id.Hex())
}

// Put writes rec, replacing any previous record for its channel.
func (ps *Store) Put(ctx context.Context, rec *ChannelRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return ps.ds.Put(ctx, dskeyForChannel(rec.ChannelID), b)
}

// Get returns the record for id or ErrChannelNotFound.
func (ps *Store) Get(ctx context.Context, id chanstate.Hash) (*ChannelRecord, error) {
	b, err := ps.ds.Get(ctx, dskeyForChannel(id))
	if err == datastore.ErrNotFound {
		return nil, xerrors.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return unmarshallChannelRecord(b)
}

// Has reports whether a record exists for id.
func (ps *Store) Has(ctx context.Context, id chanstate.Hash) (bool, error) {
	return ps.ds.Has(ctx, dskeyForChannel(id))
}

// List returns every record, oldest first.
func (ps *Store) List(ctx context.Context) ([]*ChannelRecord, error) {
	res, err := ps.ds.Query(ctx, dsq.Query{})
	if err != nil {
		return nil, err
	}
	defer res.Close() //nolint:errcheck

	var out []*ChannelRecord
	for r := range res.Next() {
		if r.Error != nil {
			return nil, r.Error
		}
		rec, err := unmarshallChannelRecord(r.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ChannelID.Hex() < out[j].ChannelID.Hex()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func unmarshallChannelRecord(b []byte) (*ChannelRecord, error) {
	var rec ChannelRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, xerrors.Errorf("decoding channel record: %w", err)
	}
	return &rec, nil
}
