package storage

import "errors"

// ErrNotFound wird zurückgegeben, wenn ein angeforderter Datensatz nicht existiert.
var ErrNotFound = errors.New("record not found")
