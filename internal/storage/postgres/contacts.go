package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/sonroyaalmerol/contactsync/internal/storage"
)

func (s *Store) Get(ctx context.Context, account storage.AccountRef, address string) (*storage.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		select account, address, display_name, identifier, card_uid, updated_at
		from contacts where account = $1 and address = $2`, account.String(), storage.NormalizeAddress(address))
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, account storage.AccountRef, opts storage.ListOptions) ([]*storage.Entry, error) {
	q := `
		select account, address, display_name, identifier, card_uid, updated_at
		from contacts where account = $1`
	args := []any{account.String()}
	if opts.CardUID != "" {
		q += " and card_uid = $2"
		args = append(args, opts.CardUID)
	}
	q += " order by address"

	rows, err := s.pool.Query(ctx, q, args...)
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
	_, err = s.pool.Exec(ctx, `
		insert into contacts (account, address, display_name, identifier, card_uid)
		values ($1, $2, $3, $4, $5)
		on conflict (account, address) do update set
			display_name = case when excluded.display_name <> '' then excluded.display_name else contacts.display_name end,
			identifier = excluded.identifier,
			card_uid = excluded.card_uid,
			updated_at = now()
		where contacts.card_uid = '' or excluded.card_uid <> ''
	`, account.String(), c.Address, c.DisplayName, c.Identifier, cardUID)
	return classify(err)
}

func (s *Store) Update(ctx context.Context, account storage.AccountRef, c storage.Contact, cardUID string) error {
	c, err := storage.ValidateContact(c)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		update contacts set
			display_name = case when $3::text <> '' then $3::text else display_name end,
			identifier = $4,
			updated_at = now()
		where account = $1 and address = $2 and card_uid = $5
	`, account.String(), c.Address, c.DisplayName, c.Identifier, cardUID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, account storage.AccountRef, address, cardUID string) error {
	_, err := s.pool.Exec(ctx, `
		delete from contacts where account = $1 and address = $2 and card_uid = $3
	`, account.String(), storage.NormalizeAddress(address), cardUID)
	return classify(err)
}

func scanEntry(row pgx.Row) (*storage.Entry, error) {
	var e storage.Entry
	var account string
	if err := row.Scan(&account, &e.Address, &e.DisplayName, &e.Identifier, &e.CardUID, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Account = storage.AccountRef(account)
	return &e, nil
}
