package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresuchdata/shopledger/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const changeChannel = "document_changes"

const documentSchema = `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT        NOT NULL,
		id         TEXT        NOT NULL,
		body       JSONB       NOT NULL DEFAULT '{}'::jsonb,
		seq        BIGSERIAL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_collection_seq ON documents (collection, seq);
	CREATE INDEX IF NOT EXISTS idx_documents_bill_id ON documents ((body->>'billId')) WHERE collection = 'products';

	CREATE OR REPLACE FUNCTION notify_document_change() RETURNS trigger AS $$
	DECLARE
		doc documents%ROWTYPE;
		op  TEXT;
	BEGIN
		IF TG_OP = 'DELETE' THEN
			doc := OLD;
		ELSE
			doc := NEW;
		END IF;
		op := CASE TG_OP WHEN 'INSERT' THEN 'create' WHEN 'UPDATE' THEN 'update' ELSE 'delete' END;
		PERFORM pg_notify('document_changes',
			json_build_object('collection', doc.collection, 'id', doc.id, 'op', op)::text);
		RETURN doc;
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS documents_notify ON documents;
	CREATE TRIGGER documents_notify
		AFTER INSERT OR UPDATE OR DELETE ON documents
		FOR EACH ROW EXECUTE FUNCTION notify_document_change();
`

// DocumentStore keeps both collections as jsonb rows in one table. Partial
// updates merge with the jsonb || operator, so a null value in the partial
// record stores a JSON null.
type DocumentStore struct {
	db *DB
}

var _ store.DocumentStore = (*DocumentStore)(nil)

func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Migrate creates the documents table and its change trigger.
func (s *DocumentStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, documentSchema); err != nil {
		return fmt.Errorf("failed to migrate documents schema: %w", err)
	}
	return nil
}

type documentRow struct {
	ID   string `db:"id"`
	Body []byte `db:"body"`
}

func (s *DocumentStore) GetAll(ctx context.Context, c store.Collection) ([]store.Record, error) {
	if err := s.db.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.db.release()

	query := `
		SELECT id, body
		FROM documents
		WHERE collection = $1
		ORDER BY seq
	`

	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, query, string(c)); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c, err)
	}

	out := make([]store.Record, 0, len(rows))
	for _, row := range rows {
		rec := store.Record{}
		if err := json.Unmarshal(row.Body, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", c, row.ID, err)
		}
		rec[store.IDField] = row.ID
		out = append(out, rec)
	}
	return out, nil
}

func (s *DocumentStore) Create(ctx context.Context, c store.Collection, data store.Record) (string, error) {
	id := data.ID()
	if id == "" {
		id = uuid.NewString()
	}
	body, err := json.Marshal(store.WithoutID(data))
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}

	if err := s.db.acquire(ctx); err != nil {
		return "", err
	}
	defer s.db.release()

	query := `INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3::jsonb)`
	if _, err := s.db.ExecContext(ctx, query, string(c), id, string(body)); err != nil {
		return "", fmt.Errorf("failed to create %s/%s: %w", c, id, err)
	}
	return id, nil
}

func (s *DocumentStore) Update(ctx context.Context, c store.Collection, id string, partial store.Record) error {
	body, err := json.Marshal(store.WithoutID(partial))
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	if err := s.db.acquire(ctx); err != nil {
		return err
	}
	defer s.db.release()

	query := `
		UPDATE documents
		SET body = body || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2
	`
	res, err := s.db.ExecContext(ctx, query, string(c), id, string(body))
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", c, id, err)
	}
	return requireRow(res, c, id)
}

func (s *DocumentStore) Delete(ctx context.Context, c store.Collection, id string) error {
	if err := s.db.acquire(ctx); err != nil {
		return err
	}
	defer s.db.release()

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, string(c), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", c, id, err)
	}
	return requireRow(res, c, id)
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffected, c store.Collection, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", c, id, store.ErrNotFound)
	}
	return nil
}

// Subscribe opens a dedicated LISTEN connection and forwards the trigger's
// notifications for collection c until ctx is done or the returned function
// is called.
func (s *DocumentStore) Subscribe(ctx context.Context, c store.Collection, fn func(store.Change)) (func(), error) {
	listener := pq.NewListener(s.db.DSN(), 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Int("event", int(ev)).Msg("document change listener event")
		}
	})
	if err := listener.Listen(changeChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", changeChannel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil after a reconnect
				if n == nil {
					continue
				}
				change, err := parseChange(n.Extra)
				if err != nil {
					log.Warn().Err(err).Str("payload", n.Extra).Msg("ignoring malformed document change")
					continue
				}
				if change.Collection == c {
					fn(change)
				}
			case <-time.After(90 * time.Second):
				go listener.Ping()
			}
		}
	}()

	return cancel, nil
}

func parseChange(payload string) (store.Change, error) {
	var change store.Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return store.Change{}, err
	}
	if change.Collection == "" || change.ID == "" {
		return store.Change{}, fmt.Errorf("incomplete change %q", payload)
	}
	return change, nil
}

// CreateMany inserts all records in one transaction; either every record
// lands or none does.
func (s *DocumentStore) CreateMany(ctx context.Context, c store.Collection, records []store.Record) ([]string, error) {
	ids := make([]string, 0, len(records))
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3::jsonb)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			id := rec.ID()
			if id == "" {
				id = uuid.NewString()
			}
			body, err := json.Marshal(store.WithoutID(rec))
			if err != nil {
				return fmt.Errorf("failed to encode document: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, string(c), id, string(body)); err != nil {
				return fmt.Errorf("failed to create %s/%s: %w", c, id, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
