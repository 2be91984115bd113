package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUsernameTaken is returned when an insert hits the unique username constraint.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrAccountNotFound is returned when no account matches the requested identifier.
	ErrAccountNotFound = errors.New("account not found")
)

// AccountRecord is the persistence projection of one registered user.
type AccountRecord struct {
	ID             int64
	Username       string
	PasswordDigest string
}

// ProfileChanges carries a sparse profile update: nil fields are left untouched.
type ProfileChanges struct {
	FirstName   *string
	LastName    *string
	BirthDate   *time.Time
	Email       *string
	PhoneNumber *string
}

// ProfileView is the subset of profile fields returned to the account owner.
// The password digest never leaves the store; birth date is writable but not
// part of the read view.
type ProfileView struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phone_number"`
}

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	Create(ctx context.Context, username, passwordDigest string) (int64, error)
	FindByUsername(ctx context.Context, username string) (*AccountRecord, error)
	FindUsernameByID(ctx context.Context, id int64) (string, error)
	UpdateProfile(ctx context.Context, id int64, changes ProfileChanges) error
	GetProfile(ctx context.Context, id int64) (ProfileView, error)
}

// PgAccountRepository implements AccountRepository using pgxpool.
type PgAccountRepository struct {
	db *pgxpool.Pool
}

func NewPgAccountRepository(db *pgxpool.Pool) *PgAccountRepository {
	return &PgAccountRepository{db: db}
}

// Create inserts a new account and returns the store-assigned identifier.
// A unique-constraint violation on username is classified as ErrUsernameTaken.
func (r *PgAccountRepository) Create(ctx context.Context, username, passwordDigest string) (int64, error) {
	const q = `INSERT INTO accounts (username, password_digest) VALUES ($1,$2) RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, q, username, passwordDigest).Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrUsernameTaken
		}
		return 0, err
	}
	return id, nil
}

func (r *PgAccountRepository) FindByUsername(ctx context.Context, username string) (*AccountRecord, error) {
	const q = `SELECT id, username, password_digest FROM accounts WHERE username=$1`
	var a AccountRecord
	if err := r.db.QueryRow(ctx, q, username).Scan(&a.ID, &a.Username, &a.PasswordDigest); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *PgAccountRepository) FindUsernameByID(ctx context.Context, id int64) (string, error) {
	const q = `SELECT username FROM accounts WHERE id=$1`
	var username string
	if err := r.db.QueryRow(ctx, q, id).Scan(&username); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrAccountNotFound
		}
		return "", err
	}
	return username, nil
}

// UpdateProfile applies only the non-nil fields of changes. COALESCE keeps the
// stored value when the bound parameter is NULL, which is what makes the
// update sparse rather than a full overwrite.
func (r *PgAccountRepository) UpdateProfile(ctx context.Context, id int64, changes ProfileChanges) error {
	const q = `UPDATE accounts SET
		first_name = COALESCE($2, first_name),
		last_name = COALESCE($3, last_name),
		birth_date = COALESCE($4, birth_date),
		email = COALESCE($5, email),
		phone_number = COALESCE($6, phone_number)
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, id,
		changes.FirstName, changes.LastName, changes.BirthDate, changes.Email, changes.PhoneNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *PgAccountRepository) GetProfile(ctx context.Context, id int64) (ProfileView, error) {
	const q = `SELECT first_name, last_name, email, phone_number FROM accounts WHERE id=$1`
	var p ProfileView
	if err := r.db.QueryRow(ctx, q, id).Scan(&p.FirstName, &p.LastName, &p.Email, &p.PhoneNumber); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProfileView{}, ErrAccountNotFound
		}
		return ProfileView{}, err
	}
	return p, nil
}
