package services

import "errors"

// Validierungsfehler. Sie werden geprüft, bevor irgendein Store-Zugriff
// stattfindet; "nicht gefunden" läuft dagegen über gorm.ErrRecordNotFound.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidPeriod = errors.New("invalid period type")
)
