// +build !linux

package uuidx

import (
	"os"

	"github.com/google/uuid"
)

func realFromFile(file *os.File) (string, error) {
	return uuid.NewString(), nil
}
