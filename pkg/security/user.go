package security

import (
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/docvault/engine/pkg/ratelimit"
)

// User is the external identity the storage engine treats as opaque (§3
// User). The core only ever calls AllowProcessing and HasPermission on it.
type User struct {
	Username     string   `json:"username"`
	PasswordHash string   `json:"password_hash"`
	// Roles drives the dispatcher's resource-level permission check (RBAC).
	Roles []string `json:"roles"`
	// Permissions grants fine-grained "scope:op" entries consulted by the
	// core's own per-field checks, independent of the dispatcher's RBAC.
	Permissions []string `json:"permissions"`
	BucketSize  int      `json:"bucket_size"`
	Active      bool     `json:"active"`

	bucket *ratelimit.Bucket
}

// AllowProcessing consumes one unit from the user's rate-limit bucket,
// lazily creating it from BucketSize on first use (§4.7).
func (u *User) AllowProcessing() ratelimit.Decision {
	if u.bucket == nil {
		size := u.BucketSize
		if size <= 0 {
			size = 60
		}
		u.bucket = ratelimit.NewBucket(size, ratelimit.DefaultWindow)
	}
	return u.bucket.Take()
}

// HasPermission reports whether the user's permission set grants op on
// scope. A permission entry of "*" on either axis matches anything,
// mirroring the teacher's RBAC wildcard semantics.
func (u *User) HasPermission(op, scope string) bool {
	rbac := permissionSet(u.Permissions)
	return rbac.allows(op, scope)
}

// UserStore manages users, optionally persisted to a JSON file on disk.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]*User
	path  string
}

// NewUserStore creates an empty, in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]*User)}
}

// LoadUserStore loads users from a JSON file (one array of User). A
// missing file yields an empty store, matching the engine's "create on
// first use" posture elsewhere (§4.2 loadData).
func LoadUserStore(path string) (*UserStore, error) {
	store := &UserStore{users: make(map[string]*User), path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, err
	}

	var users []*User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, err
	}
	for _, u := range users {
		store.users[u.Username] = u
	}
	return store, nil
}

// Save persists the store to its backing file, if any.
func (s *UserStore) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	users := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// GetUser retrieves a user by username.
func (s *UserStore) GetUser(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[username]
	if !exists {
		return nil, errors.New("user not found")
	}
	if !user.Active {
		return nil, errors.New("user is inactive")
	}
	return user, nil
}

// Authenticate verifies user credentials.
func (s *UserStore) Authenticate(username, password string) (*User, error) {
	user, err := s.GetUser(username)
	if err != nil {
		return nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, errors.New("invalid password")
	}
	return user, nil
}

// AddUser adds a new user.
func (s *UserStore) AddUser(user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return errors.New("user already exists")
	}
	if user.BucketSize <= 0 {
		user.BucketSize = 60
	}
	if len(user.Roles) == 0 {
		user.Roles = []string{"viewer"}
	}
	user.Active = true
	s.users[user.Username] = user
	return nil
}

// RemoveUser removes a user.
func (s *UserStore) RemoveUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; !exists {
		return errors.New("user not found")
	}
	delete(s.users, username)
	return nil
}
