package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/spark-chat-backend/internal/domain"
)

// LocalProvider keeps accounts in the application database with bcrypt
// password hashes. It reports failures with the same codes as the remote
// provider so the Gateway treats both identically.
type LocalProvider struct {
	db       *gorm.DB
	cost     int
	minLen   int
	attempts rate.Limit
	burst    int

	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lookups    int
	sweepEvery int
	now        func() time.Time
}

// NewLocalProvider builds a provider over db. Sign-in attempts are limited
// per email to a burst of 10, refilling one per 30 seconds.
func NewLocalProvider(db *gorm.DB) *LocalProvider {
	return &LocalProvider{
		db:         db,
		cost:       bcrypt.DefaultCost,
		minLen:     6,
		attempts:   rate.Every(30 * time.Second),
		burst:      10,
		limiters:   make(map[string]*rate.Limiter),
		sweepEvery: 1024,
		now:        time.Now,
	}
}

// SignIn checks the password against the stored hash.
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (Account, error) {
	if !p.allow(email) {
		return Account{}, &ProviderError{Code: "TOO_MANY_ATTEMPTS_TRY_LATER"}
	}
	var acct domain.Account
	err := p.db.WithContext(ctx).Where("email = ?", email).First(&acct).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Account{}, &ProviderError{Code: "INVALID_LOGIN_CREDENTIALS"}
	case err != nil:
		return Account{}, err
	}
	if acct.Disabled {
		return Account{}, &ProviderError{Code: "USER_DISABLED"}
	}
	if err := bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)); err != nil {
		return Account{}, &ProviderError{Code: "INVALID_LOGIN_CREDENTIALS"}
	}
	return Account{UserID: acct.ID, Email: acct.Email}, nil
}

// SignUp creates an account unless the email is already registered.
func (p *LocalProvider) SignUp(ctx context.Context, email, password string) (Account, error) {
	if len(password) < p.minLen {
		return Account{}, &ProviderError{Code: "WEAK_PASSWORD"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return Account{}, &ProviderError{Code: "WEAK_PASSWORD", Err: err}
		}
		return Account{}, err
	}
	acct := domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.Account{}).Where("email = ?", email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return &ProviderError{Code: "EMAIL_EXISTS"}
		}
		return tx.Create(&acct).Error
	})
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return Account{}, pe
		}
		// A concurrent sign-up can win the unique index between count and insert.
		if p.exists(ctx, email) {
			return Account{}, &ProviderError{Code: "EMAIL_EXISTS", Err: err}
		}
		return Account{}, err
	}
	return Account{UserID: acct.ID, Email: acct.Email}, nil
}

func (p *LocalProvider) exists(ctx context.Context, email string) bool {
	var n int64
	p.db.WithContext(ctx).Model(&domain.Account{}).Where("email = ?", email).Count(&n)
	return n > 0
}

// allow takes one sign-in attempt from email's bucket. Every sweepEvery
// calls, buckets that have refilled completely are dropped: a full bucket
// admits exactly what a new one would.
func (p *LocalProvider) allow(email string) bool {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lookups++
	if p.lookups >= p.sweepEvery {
		for k, l := range p.limiters {
			if l.TokensAt(now) >= float64(p.burst) {
				delete(p.limiters, k)
			}
		}
		p.lookups = 0
	}

	l, ok := p.limiters[email]
	if !ok {
		l = rate.NewLimiter(p.attempts, p.burst)
		p.limiters[email] = l
	}
	return l.AllowN(now, 1)
}
