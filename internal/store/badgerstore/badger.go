package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/vovakirdan/chatrelay/internal/store"
)

// Key layout:
//
//	identity:{id}            -> identityRecord
//	username:{username}      -> id
//	msg:{seq:020d}           -> messageRecord
//	sender:{id}:{seq:020d}   -> seq key of the message
const (
	prefixIdentity = "identity:"
	prefixUsername = "username:"
	prefixMessage  = "msg:"
	prefixSender   = "sender:"

	sequenceKey       = "seq:messages"
	sequenceBandwidth = 128
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("badgerstore: CBOR encoder initialization failed: " + err.Error())
	}
}

type identityRecord struct {
	ID          string `cbor:"1,keyasint"`
	Username    string `cbor:"2,keyasint"`
	DisplayName string `cbor:"3,keyasint"`
	AvatarURI   string `cbor:"4,keyasint"`
	Digest      []byte `cbor:"5,keyasint,omitempty"`
	Salt        []byte `cbor:"6,keyasint,omitempty"`
	CreatedAt   int64  `cbor:"7,keyasint"`
}

type messageRecord struct {
	ID        string `cbor:"1,keyasint"`
	Seq       int64  `cbor:"2,keyasint"`
	SenderID  string `cbor:"3,keyasint"`
	Text      string `cbor:"4,keyasint"`
	CreatedAt int64  `cbor:"5,keyasint"`
}

// Store implements store.Store on top of BadgerDB.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence

	appendMu sync.Mutex
	clock    store.Clock
}

// Open opens a badger database in dir. An empty dir opens an in-memory database.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return New(db)
}

// New wraps an already opened database.
func New(db *badger.DB) (*Store, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("get message sequence: %w", err)
	}
	s := &Store{db: db, seq: seq}

	last, err := s.lastCreatedAt()
	if err != nil {
		_ = seq.Release()
		return nil, err
	}
	s.clock.Seed(last)
	return s, nil
}

// WithClock overrides the journal time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.clock.Now = now
	return s
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		return fmt.Errorf("release sequence: %w", err)
	}
	return s.db.Close()
}

func messageKey(seq int64) []byte {
	return fmt.Appendf(nil, "%s%020d", prefixMessage, seq)
}

func senderKey(senderID string, seq int64) []byte {
	return fmt.Appendf(nil, "%s%s:%020d", prefixSender, senderID, seq)
}

func (s *Store) lastCreatedAt() (int64, error) {
	var last int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefixMessage)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the largest key at or below the seek key.
		it.Seek([]byte(prefixMessage + "~"))
		if !it.ValidForPrefix([]byte(prefixMessage)) {
			return nil
		}
		return it.Item().Value(func(val []byte) error {
			var rec messageRecord
			if err := cbor.Unmarshal(val, &rec); err != nil {
				return err
			}
			last = rec.CreatedAt
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("read journal head: %w", err)
	}
	return last, nil
}

// ==== IdentityStore implementation ====

// CreateIdentity stores the identity and its username index in one transaction.
func (s *Store) CreateIdentity(_ context.Context, identity *store.Identity) error {
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}

	data, err := encMode.Marshal(toIdentityRecord(identity))
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		usernameKey := []byte(prefixUsername + identity.Username)
		if _, err := txn.Get(usernameKey); err == nil {
			return store.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		idKey := []byte(prefixIdentity + identity.ID)
		if _, err := txn.Get(idKey); err == nil {
			return store.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(idKey, data); err != nil {
			return err
		}
		return txn.Set(usernameKey, []byte(identity.ID))
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return err
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func getIdentity(txn *badger.Txn, id string) (*store.Identity, error) {
	item, err := txn.Get([]byte(prefixIdentity + id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var rec identityRecord
	if err := item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return fromIdentityRecord(rec), nil
}

// GetIdentity retrieves an identity by ID.
func (s *Store) GetIdentity(_ context.Context, id string) (*store.Identity, error) {
	var identity *store.Identity
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		identity, err = getIdentity(txn, id)
		return err
	})
	return identity, err
}

// GetIdentityByUsername resolves the username index and loads the identity.
func (s *Store) GetIdentityByUsername(_ context.Context, username string) (*store.Identity, error) {
	var identity *store.Identity
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixUsername + username))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		identity, err = getIdentity(txn, string(id))
		return err
	})
	return identity, err
}

// ListIdentities returns identities ordered by creation time.
func (s *Store) ListIdentities(_ context.Context) ([]*store.Identity, error) {
	var identities []*store.Identity
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixIdentity)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec identityRecord
			if err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode identity: %w", err)
			}
			identities = append(identities, fromIdentityRecord(rec))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}

	slices.SortStableFunc(identities, func(a, b *store.Identity) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Username, b.Username)
	})
	return identities, nil
}

// SetCredentials replaces the stored digest and salt.
func (s *Store) SetCredentials(_ context.Context, id string, digest, salt []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		identity, err := getIdentity(txn, id)
		if err != nil {
			return err
		}
		identity.CredentialDigest = digest
		identity.CredentialSalt = salt
		data, err := encMode.Marshal(toIdentityRecord(identity))
		if err != nil {
			return fmt.Errorf("marshal identity: %w", err)
		}
		return txn.Set([]byte(prefixIdentity+id), data)
	})
}

// ==== Journal implementation ====

// Append takes the next value of the badger sequence and writes the message
// and its sender index entry in a single transaction.
func (s *Store) Append(_ context.Context, senderID, text string) (store.Message, error) {
	if err := store.CheckText(text); err != nil {
		return store.Message{}, err
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	// The sequence may lease a new range in its own transaction, so take the
	// number before opening ours. A rejected append leaves a gap, which is harmless.
	next, err := s.seq.Next()
	if err != nil {
		return store.Message{}, fmt.Errorf("next sequence: %w", err)
	}

	var msg store.Message
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixIdentity + senderID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return store.UnknownSender(senderID)
			}
			return err
		}

		msg = store.Message{
			ID:        uuid.NewString(),
			Seq:       int64(next) + 1,
			SenderID:  senderID,
			Text:      text,
			CreatedAt: s.clock.Next(),
		}
		data, err := encMode.Marshal(messageRecord{
			ID:        msg.ID,
			Seq:       msg.Seq,
			SenderID:  msg.SenderID,
			Text:      msg.Text,
			CreatedAt: msg.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		key := messageKey(msg.Seq)
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(senderKey(senderID, msg.Seq), key)
	})
	if err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			return store.Message{}, err
		}
		return store.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// List scans the message prefix, or the sender index when a sender is given.
// Both key spaces sort by zero-padded sequence.
func (s *Store) List(_ context.Context, senderID string) ([]store.Message, error) {
	messages := make([]store.Message, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		decode := func(val []byte) error {
			var rec messageRecord
			if err := cbor.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			messages = append(messages, store.Message{
				ID:        rec.ID,
				Seq:       rec.Seq,
				SenderID:  rec.SenderID,
				Text:      rec.Text,
				CreatedAt: rec.CreatedAt,
			})
			return nil
		}

		opts := badger.DefaultIteratorOptions
		if senderID == "" {
			opts.Prefix = []byte(prefixMessage)
		} else {
			opts.Prefix = []byte(prefixSender + senderID + ":")
			opts.PrefetchValues = false
		}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if senderID == "" {
				if err := it.Item().Value(decode); err != nil {
					return err
				}
				continue
			}
			key, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			item, err := txn.Get(key)
			if err != nil {
				return fmt.Errorf("load indexed message: %w", err)
			}
			if err := item.Value(decode); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func toIdentityRecord(identity *store.Identity) identityRecord {
	return identityRecord{
		ID:          identity.ID,
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		AvatarURI:   identity.AvatarURI,
		Digest:      identity.CredentialDigest,
		Salt:        identity.CredentialSalt,
		CreatedAt:   identity.CreatedAt.UnixMilli(),
	}
}

func fromIdentityRecord(rec identityRecord) *store.Identity {
	return &store.Identity{
		ID:               rec.ID,
		Username:         rec.Username,
		DisplayName:      rec.DisplayName,
		AvatarURI:        rec.AvatarURI,
		CredentialDigest: rec.Digest,
		CredentialSalt:   rec.Salt,
		CreatedAt:        time.UnixMilli(rec.CreatedAt).UTC(),
	}
}
