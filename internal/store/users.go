package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

var ErrNotFound = errors.New("not found")

// Users is the user profile directory. Profiles live under profile:{username}
// as JSON strings; the username is the unique key.
type Users struct {
	redis *redis.Client
}

func NewUsers(rdb *redis.Client) *Users {
	return &Users{redis: rdb}
}

// CreateUser writes a new profile and reports whether the username was free.
// Passwords are stored as bcrypt hashes, never as the supplied plaintext.
func (u *Users) CreateUser(ctx context.Context, username, password, displayName string) (bool, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	profile := Profile{
		Username:    username,
		Password:    string(hash),
		DisplayName: displayName,
		CreatedAt:   now,
		LastLogin:   now,
	}
	b, err := json.Marshal(profile)
	if err != nil {
		return false, fmt.Errorf("marshal profile: %w", err)
	}

	created, err := u.redis.SetNX(ctx, profileKey(username), string(b), 0).Result()
	if err != nil {
		return false, fmt.Errorf("create profile: %w", err)
	}
	return created, nil
}

// VerifyUser reports whether the supplied credentials match a stored profile.
// A missing profile and a wrong password are indistinguishable to the caller.
func (u *Users) VerifyUser(ctx context.Context, username, password string) (bool, error) {
	profile, err := u.GetProfile(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(profile.Password), []byte(password)) == nil, nil
}

func (u *Users) GetProfile(ctx context.Context, username string) (Profile, error) {
	raw, err := u.redis.Get(ctx, profileKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	var profile Profile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return profile, nil
}

// UpdateLastLogin is a read-modify-write of the last_login field. Concurrent
// writers of the same profile race; last write wins.
func (u *Users) UpdateLastLogin(ctx context.Context, username string) error {
	profile, err := u.GetProfile(ctx, username)
	if err != nil {
		return err
	}
	profile.LastLogin = time.Now().UTC()

	b, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := u.redis.Set(ctx, profileKey(username), string(b), 0).Err(); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}
