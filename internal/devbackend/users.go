package devbackend

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var errUserNotFound = errors.New("not found")

// User is an account the development backend can sign in.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Name         string
	Role         string
	OrgUnit      string
	Blocked      bool
}

func HashPassword(password string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// userDirectory is an in-memory user store keyed by username.
type userDirectory struct {
	users map[string]*User
	ids   map[string]string // user id to username
	lock  sync.RWMutex
}

func newUserDirectory() *userDirectory {
	return &userDirectory{
		users: make(map[string]*User),
		ids:   make(map[string]string),
	}
}

func (d *userDirectory) Upsert(user *User) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	d.users[user.Username] = user
	d.ids[user.ID] = user.Username
}

func (d *userDirectory) GetByUsername(username string) (*User, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	u, ok := d.users[username]
	if !ok {
		return nil, errUserNotFound
	}
	return u, nil
}

func (d *userDirectory) GetByID(id string) (*User, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	username, ok := d.ids[id]
	if !ok {
		return nil, errUserNotFound
	}
	return d.users[username], nil
}
