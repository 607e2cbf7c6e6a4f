package auth

import (
	"crypto/rand"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// GenerateOtpCode produces a numeric one-time code of the given length.
// The first digit is never zero so the code keeps its full length when
// rendered in an SMS template.
func GenerateOtpCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	digits := make([]byte, length)
	for i := range digits {
		max := int64(10)
		if i == 0 {
			max = 9
		}
		n, err := rand.Int(rand.Reader, big.NewInt(max))
		if err != nil {
			return "", err
		}
		if i == 0 {
			digits[i] = byte('1' + n.Int64())
		} else {
			digits[i] = byte('0' + n.Int64())
		}
	}
	return string(digits), nil
}

// HashOtpCode hashes a one-time code before it is stored.
func HashOtpCode(code string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CompareOtpCode verifies a submitted code against its stored hash.
func CompareOtpCode(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
