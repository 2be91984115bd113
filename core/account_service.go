package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials is returned when username/password is wrong. Unknown
	// username and digest mismatch are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrBadUsername is returned when a username fails shape validation.
	ErrBadUsername = errors.New("username must be from 2 to 20 symbols and consist only of ascii lowercase letters and digits")
	// ErrBadPassword is returned when a password fails shape validation.
	ErrBadPassword = errors.New("password must be from 8 to 30 ascii symbols and contain at least one lowercase, one uppercase, one digit and one special symbol")
	// ErrBadBirthDate is returned when day/month/year do not form a real calendar date.
	ErrBadBirthDate = errors.New("birth date is not a valid calendar date")
)

// BirthDate is the wire shape of a birth date in profile updates.
type BirthDate struct {
	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// ProfileUpdate is the public shape of a sparse profile update request.
type ProfileUpdate struct {
	FirstName   *string    `json:"first_name"`
	LastName    *string    `json:"last_name"`
	BirthDate   *BirthDate `json:"birth_date"`
	Email       *string    `json:"email"`
	PhoneNumber *string    `json:"phone_number"`
}

// AccountService is the account directory: registration, credential check,
// profile read/update. It fronts the record store and owns all shape
// validation so nothing malformed reaches the store.
type AccountService struct {
	accounts   AccountRepository
	digestSalt string
}

func NewAccountService(accounts AccountRepository, digestSalt string) *AccountService {
	return &AccountService{accounts: accounts, digestSalt: digestSalt}
}

func validUsername(username string) bool {
	if len(username) < 2 || len(username) > 20 {
		return false
	}
	for _, c := range []byte(username) {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func validPassword(password string) bool {
	if len(password) < 8 || len(password) > 30 {
		return false
	}
	var lower, upper, digit, symbol bool
	for _, c := range []byte(password) {
		switch {
		case c > 127:
			return false
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= 'A' && c <= 'Z':
			upper = true
		case c >= '0' && c <= '9':
			digit = true
		default:
			symbol = true
		}
	}
	return lower && upper && digit && symbol
}

// validCalendarDate reports whether day/month/year name a real date. time.Date
// normalizes out-of-range components (Feb 31 becomes Mar 2/3), so a round trip
// that changes any component means the input was not a real date.
func validCalendarDate(d BirthDate) bool {
	if d.Year < 1 || d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return false
	}
	t := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	return t.Year() == d.Year && int(t.Month()) == d.Month && t.Day() == d.Day
}

// Register validates username and password shape, then inserts the account.
// Shape violations are reported before the store is touched; a duplicate
// username surfaces as ErrUsernameTaken from the repository.
func (s *AccountService) Register(ctx context.Context, username, password string) error {
	if !validUsername(username) {
		return ErrBadUsername
	}
	if !validPassword(password) {
		return ErrBadPassword
	}
	_, err := s.accounts.Create(ctx, username, PasswordDigest(s.digestSalt, password))
	return err
}

// Authenticate resolves the account by username and compares digests. Every
// failure path collapses into ErrInvalidCredentials so callers cannot tell
// whether the username or the password was wrong.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	account, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, err
	}
	digest := PasswordDigest(s.digestSalt, password)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(account.PasswordDigest)) != 1 {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{AccountID: account.ID, Username: account.Username}, nil
}

// UpdateProfile applies a sparse update to the account identified by
// accountID, which callers must take from the authorization gate. An invalid
// birth date is rejected before the store is touched.
func (s *AccountService) UpdateProfile(ctx context.Context, accountID int64, update ProfileUpdate) error {
	changes := ProfileChanges{
		FirstName:   update.FirstName,
		LastName:    update.LastName,
		Email:       update.Email,
		PhoneNumber: update.PhoneNumber,
	}
	if update.BirthDate != nil {
		if !validCalendarDate(*update.BirthDate) {
			return ErrBadBirthDate
		}
		d := time.Date(update.BirthDate.Year, time.Month(update.BirthDate.Month), update.BirthDate.Day, 0, 0, 0, 0, time.UTC)
		changes.BirthDate = &d
	}
	return s.accounts.UpdateProfile(ctx, accountID, changes)
}

// ReadProfile returns the owner-visible profile view.
func (s *AccountService) ReadProfile(ctx context.Context, accountID int64) (ProfileView, error) {
	return s.accounts.GetProfile(ctx, accountID)
}
