package utils

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const nanoIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func GenerateNanoID(size int) string {
	id, err := gonanoid.Generate(nanoIDAlphabet, size)
	if err != nil {
		// only fails on invalid alphabet or size
		panic(err)
	}
	return id
}

func GenerateNanoIDWithPrefix(prefix string, size int) string {
	return fmt.Sprintf("%s_%s", prefix, GenerateNanoID(size))
}
