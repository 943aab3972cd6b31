package accounts

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const textCodeTicketConflict = "TICKET_CONFLICT"

// ErrTicketNotFound is returned when no live ticket exists for an email
var ErrTicketNotFound = goerrors.New("password reset ticket not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ResetTickets stores password reset tickets keyed by email. Tickets are
// never updated in place: they are replaced or deleted.
type ResetTickets interface {
	ReplaceTx(ctx context.Context, tx bun.IDB, ticket *PasswordResetTicket) error
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*PasswordResetTicket, error)
	DeleteByEmailTx(ctx context.Context, tx bun.IDB, email string) error
}

type resetTickets struct {
	db *bun.DB
}

func NewResetTicketsRepository(db *bun.DB) ResetTickets {
	return &resetTickets{db: db}
}

// ReplaceTx drops any ticket for the email and inserts the new one. Run it
// inside a transaction so readers never see zero or two tickets.
func (r *resetTickets) ReplaceTx(ctx context.Context, tx bun.IDB, ticket *PasswordResetTicket) error {
	if tx == nil {
		tx = r.db
	}
	ticket.Email = NormalizeEmail(ticket.Email)

	if err := r.DeleteByEmailTx(ctx, tx, ticket.Email); err != nil {
		return err
	}

	if _, err := tx.NewInsert().Model(ticket).Exec(ctx); err != nil {
		if isUniqueViolation(err, "password_reset_tickets", "pkey") {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "concurrent password reset ticket").
				WithTextCode(textCodeTicketConflict)
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create password reset ticket")
	}
	return nil
}

func (r *resetTickets) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*PasswordResetTicket, error) {
	if tx == nil {
		tx = r.db
	}

	ticket := &PasswordResetTicket{}
	err := tx.NewSelect().
		Model(ticket).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTicketNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load password reset ticket")
	}
	return ticket, nil
}

func (r *resetTickets) DeleteByEmailTx(ctx context.Context, tx bun.IDB, email string) error {
	if tx == nil {
		tx = r.db
	}

	_, err := tx.NewDelete().
		Model((*PasswordResetTicket)(nil)).
		Where("email = ?", NormalizeEmail(email)).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete password reset ticket")
	}
	return nil
}
