package store

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/narwhal-go/narwhal/primary/api"
)

var (
	certPrefix = []byte("cert:")
	lastPrefix = []byte("last:")
)

func certificateKey(a api.Authority, r api.Round) []byte {
	key := make([]byte, 0, len(certPrefix)+len(a)+8)
	key = append(key, certPrefix...)
	key = append(key, a[:]...)
	key = append(key, encodeRound(r)...)
	return key
}

func lastRoundKey(a api.Authority) []byte {
	key := make([]byte, 0, len(lastPrefix)+len(a))
	key = append(key, lastPrefix...)
	key = append(key, a[:]...)
	return key
}

// badgerCertificateStore is the on-disk CertificateStore backend, used
// when the primary runs against its own storage rather than a test
// double.
type badgerCertificateStore struct {
	db *badger.DB
}

// OpenCertificateStore opens (creating if absent) a badger-backed
// CertificateStore rooted at dir.
func OpenCertificateStore(dir string) (CertificateStore, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(&badgerLogger{l: hclog.New(&hclog.LoggerOptions{Name: "primary/store/badger"})})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger at %s: %w", dir, err)
	}
	return &badgerCertificateStore{db: db}, nil
}

func (s *badgerCertificateStore) LastRoundNumber(ctx context.Context, a api.Authority) (api.Round, bool, error) {
	var round api.Round
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lastRoundKey(a))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		case err != nil:
			return err
		}
		return item.Value(func(val []byte) error {
			round = decodeRound(val)
			found = true
			return nil
		})
	})
	if err != nil {
		return 0, false, fmt.Errorf("store: last round number: %w", err)
	}
	return round, found, nil
}

func (s *badgerCertificateStore) Store(ctx context.Context, cert *api.Certificate) error {
	blob, err := cbor.Marshal(cert)
	if err != nil {
		return fmt.Errorf("store: marshal certificate: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(certificateKey(cert.Author, cert.Round), blob); err != nil {
			return err
		}

		lastKey := lastRoundKey(cert.Author)
		var current api.Round
		item, err := txn.Get(lastKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				current = decodeRound(val)
				return nil
			}); err != nil {
				return err
			}
		}

		if cert.Round <= current {
			return nil
		}
		return txn.Set(lastKey, encodeRound(cert.Round))
	})
	if err != nil {
		return fmt.Errorf("store: store certificate: %w", err)
	}
	return nil
}

func (s *badgerCertificateStore) CertificatesAfter(ctx context.Context, a api.Authority, after api.Round) ([]api.Certificate, error) {
	prefix := make([]byte, 0, len(certPrefix)+len(a))
	prefix = append(prefix, certPrefix...)
	prefix = append(prefix, a[:]...)

	seek := certificateKey(a, after+1)

	var out []api.Certificate
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var cert api.Certificate
			if err := item.Value(func(val []byte) error {
				return cbor.Unmarshal(val, &cert)
			}); err != nil {
				return err
			}
			out = append(out, cert)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: certificates after: %w", err)
	}
	return out, nil
}

func (s *badgerCertificateStore) Close() error {
	return s.db.Close()
}

// badgerLogger adapts an hclog.Logger to badger's 4-method Logger
// interface (Errorf/Warningf/Infof/Debugf).
type badgerLogger struct {
	l hclog.Logger
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Info(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}
