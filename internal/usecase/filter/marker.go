package filter

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultMarker: эмодзи, которым помечаются засчитываемые ответы.
const DefaultMarker = "⚡"

// Marker проверяет наличие метки в тексте ответа после NFC-нормализации.
type Marker struct {
	value string
}

// NewMarker создаёт проверку для метки. Пустое значение заменяется на DefaultMarker.
func NewMarker(value string) Marker {
	if strings.TrimSpace(value) == "" {
		value = DefaultMarker
	}
	return Marker{value: norm.NFC.String(value)}
}

// Match сообщает, содержит ли текст метку.
func (m Marker) Match(text string) bool {
	if text == "" {
		return false
	}
	if norm.NFC.IsNormalString(text) {
		return strings.Contains(text, m.value)
	}
	return strings.Contains(norm.NFC.String(text), m.value)
}
