package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

const entryColumns = `account, address, display_name, identifier, card_uid, updated_at`

func (s *Store) Get(ctx context.Context, account storage.AccountRef, address string) (*storage.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM contacts WHERE account = ? AND address = ?`, account.String(), storage.NormalizeAddress(address))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, account storage.AccountRef, opts storage.ListOptions) ([]*storage.Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM contacts WHERE account = ?`
	args := []any{account.String()}
	if opts.CardUID != "" {
		q += ` AND card_uid = ?`
		args = append(args, opts.CardUID)
	}
	q += ` ORDER BY address`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*storage.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Store) Index(ctx context.Context, account storage.AccountRef, c storage.Contact, cardUID string) error {
	c, err := storage.ValidateContact(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contacts (account, address, display_name, identifier, card_uid, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account, address) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE contacts.display_name END,
			identifier = excluded.identifier,
			card_uid = excluded.card_uid,
			updated_at = excluded.updated_at
		WHERE contacts.card_uid = '' OR excluded.card_uid <> ''
	`, account.String(), c.Address, c.DisplayName, c.Identifier, cardUID, time.Now().UnixMilli())
	return classify(err)
}

func (s *Store) Update(ctx context.Context, account storage.AccountRef, c storage.Contact, cardUID string) error {
	c, err := storage.ValidateContact(c)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET
			display_name = CASE WHEN ? <> '' THEN ? ELSE display_name END,
			identifier = ?,
			updated_at = ?
		WHERE account = ? AND address = ? AND card_uid = ?
	`, c.DisplayName, c.DisplayName, c.Identifier, time.Now().UnixMilli(), account.String(), c.Address, cardUID)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, account storage.AccountRef, address, cardUID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM contacts WHERE account = ? AND address = ? AND card_uid = ?
	`, account.String(), storage.NormalizeAddress(address), cardUID)
	return classify(err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*storage.Entry, error) {
	var e storage.Entry
	var account string
	var updated int64
	if err := row.Scan(&account, &e.Address, &e.DisplayName, &e.Identifier, &e.CardUID, &updated); err != nil {
		return nil, err
	}
	e.Account = storage.AccountRef(account)
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	return &e, nil
}
