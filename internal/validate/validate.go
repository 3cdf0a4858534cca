// Package validate checks the free-text fields a claimant types in.
package validate

import (
	"errors"
	"regexp"
	"strings"
)

var (
	cedulaRx = regexp.MustCompile(`^[0-9]{5,12}$`)
	emailRx  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRx  = regexp.MustCompile(`^[0-9]{7,15}$`)
)

// Cedula normalizes an identity number (dots and spaces removed) and checks
// it is 5 to 12 digits.
func Cedula(s string) (string, error) {
	s = strings.NewReplacer(".", "", " ", "", ",", "").Replace(strings.TrimSpace(s))
	if !cedulaRx.MatchString(s) {
		return "", errors.New("la cédula debe tener entre 5 y 12 dígitos")
	}
	return s, nil
}

// Email trims and lower-cases an address and checks its shape.
func Email(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !emailRx.MatchString(s) {
		return "", errors.New("correo electrónico inválido")
	}
	return s, nil
}

// Phone strips separators and a leading + and checks for 7 to 15 digits.
func Phone(s string) (string, error) {
	s = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "+")
	if !phoneRx.MatchString(s) {
		return "", errors.New("teléfono inválido")
	}
	return s, nil
}

// DaysOfLeave checks a leave length is positive and below a year.
func DaysOfLeave(n int) error {
	if n < 1 || n > 365 {
		return errors.New("los días de incapacidad deben estar entre 1 y 365")
	}
	return nil
}
