package accounts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Index names double as the needles used to recognise driver errors.
const (
	indexActiveEmail     = "ux_accounts_active_email"
	indexActiveDocument  = "ux_accounts_active_document"
	indexProviderSubject = "ux_accounts_provider_subject"
)

// Accounts is the identity store. Uniqueness of email and document number
// among active accounts and of (provider, subject) is enforced by the
// database at write time.
type Accounts interface {
	repository.Repository[*Account]

	FindAccountByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error)
	FindActiveByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	FindAnyByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	FindActiveByDocumentTx(ctx context.Context, tx bun.IDB, document string) (*Account, error)
	FindDeactivatedByDocumentTx(ctx context.Context, tx bun.IDB, document string) (*Account, error)
	FindBySubjectTx(ctx context.Context, tx bun.IDB, provider, subject string) (*Account, error)

	InsertAccountTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	SaveAccountTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	ReactivateAccountTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	SetPasswordHashTx(ctx context.Context, tx bun.IDB, id uuid.UUID, hash string, at time.Time) error
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var _ Accounts = (*accounts)(nil)

func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

func (a *accounts) FindAccountByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error) {
	return a.findOne(ctx, tx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.id = ?", id)
	})
}

func (a *accounts) FindActiveByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	return a.findOne(ctx, tx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.email = ?", NormalizeEmail(email)).
			Where("?TableAlias.active = ?", true)
	})
}

// FindAnyByEmailTx prefers the active holder of email, then the most
// recently updated deactivated one.
func (a *accounts) FindAnyByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	return a.findOne(ctx, tx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.email = ?", NormalizeEmail(email)).
			OrderExpr("?TableAlias.active DESC, ?TableAlias.updated_at DESC")
	})
}

func (a *accounts) FindActiveByDocumentTx(ctx context.Context, tx bun.IDB, document string) (*Account, error) {
	return a.findOne(ctx, tx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.document_number = ?", document).
			Where("?TableAlias.active = ?", true)
	})
}

func (a *accounts) FindDeactivatedByDocumentTx(ctx context.Context, tx bun.IDB, document string) (*Account, error) {
	return a.findOne(ctx, tx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.document_number = ?", document).
			Where("?TableAlias.active = ?", false).
			OrderExpr("?TableAlias.updated_at DESC")
	})
}

// FindBySubjectTx ignores the active flag, a linked subject belongs to its
// account whatever its state.
func (a *accounts) FindBySubjectTx(ctx context.Context, tx bun.IDB, provider, subject string) (*Account, error) {
	return a.findOne(ctx, tx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.provider = ?", provider).
			Where("?TableAlias.provider_subject = ?", subject)
	})
}

func (a *accounts) InsertAccountTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if tx == nil {
		tx = a.db
	}
	account.Email = NormalizeEmail(account.Email)

	if _, err := tx.NewInsert().Model(account).Exec(ctx); err != nil {
		return nil, translateAccountWriteError(err)
	}
	return account, nil
}

func (a *accounts) SaveAccountTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	if tx == nil {
		tx = a.db
	}
	account.Email = NormalizeEmail(account.Email)

	res, err := tx.NewUpdate().
		Model(account).
		WherePK().
		ExcludeColumn("id", "created_at").
		Exec(ctx)
	if err != nil {
		return nil, translateAccountWriteError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// ReactivateAccountTx writes a reactivated account only if the stored row
// is still deactivated. Losing a race fails with ErrAccountReactivated
// instead of overwriting the winner.
func (a *accounts) ReactivateAccountTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	if tx == nil {
		tx = a.db
	}
	account.Email = NormalizeEmail(account.Email)

	res, err := tx.NewUpdate().
		Model(account).
		WherePK().
		Where("?TableAlias.active = ?", false).
		ExcludeColumn("id", "created_at").
		Exec(ctx)
	if err != nil {
		return nil, translateAccountWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reactivate account")
	}
	if n == 0 {
		return nil, ErrAccountReactivated
	}
	return account, nil
}

func (a *accounts) SetPasswordHashTx(ctx context.Context, tx bun.IDB, id uuid.UUID, hash string, at time.Time) error {
	if tx == nil {
		tx = a.db
	}
	res, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("password_hash = ?", hash).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update account password")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (a *accounts) findOne(ctx context.Context, tx bun.IDB, apply func(*bun.SelectQuery) *bun.SelectQuery) (*Account, error) {
	if tx == nil {
		tx = a.db
	}

	record := &Account{}
	err := apply(tx.NewSelect().Model(record)).Limit(1).Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
	}
	return record, nil
}

func translateAccountWriteError(err error) error {
	switch {
	case isUniqueViolation(err, indexActiveEmail, "accounts.email"):
		return ErrEmailAlreadyUsed
	case isUniqueViolation(err, indexActiveDocument, "accounts.document_number"):
		return ErrDocumentAlreadyUsed
	case isUniqueViolation(err, indexProviderSubject, "accounts.provider"):
		return ErrSubjectAlreadyLinked
	default:
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write account")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}
