package utils

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

func UniqueEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	unique := make([]string, 0, len(emails))

	for _, email := range emails {
		if _, exists := seen[email]; !exists {
			seen[email] = struct{}{}
			unique = append(unique, email)
		}
	}

	return unique
}

// ExtractAddress returns the bare address of "Name <user@host>" forms.
func ExtractAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if parsed, err := mail.ParseAddress(raw); err == nil {
		return parsed.Address
	}
	if start := strings.LastIndex(raw, "<"); start >= 0 {
		if end := strings.LastIndex(raw, ">"); end > start {
			return strings.TrimSpace(raw[start+1 : end])
		}
	}
	return raw
}

// SplitAddressList splits a comma separated header value into bare addresses.
func SplitAddressList(header string) []string {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(header); err == nil {
		result := make([]string, 0, len(list))
		for _, addr := range list {
			result = append(result, addr.Address)
		}
		return result
	}

	parts := strings.Split(header, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if addr := ExtractAddress(p); addr != "" {
			result = append(result, addr)
		}
	}
	return result
}

// TruncateRunes cuts s to at most max runes.
func TruncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
