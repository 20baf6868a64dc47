package auth

import "golang.org/x/crypto/bcrypt"

// bcryptCost is the work factor for admin password hashing. Passwords are
// verified by comparison, never looked up by hash, so bcrypt's salt is fine
// here (unlike API key secrets, see HashSecret).
const bcryptCost = 12

// HashPassword hashes an admin password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
