package wizard

import (
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"github.com/tbmatch/tenderbot/internal/config"
	"github.com/tbmatch/tenderbot/internal/domain"
)

// Step validators. Errors wrap domain.ErrInvalidInput and carry the
// corrective message shown to the user; the flow re-prompts the same step.

const (
	maxFullNameLen = 256
	maxCityLen     = 128

	// defaultPhoneRegion resolves numbers entered without a country code.
	defaultPhoneRegion = "RU"
)

func ValidateFullName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", domain.Invalid("ФИО не может быть пустым")
	}
	if len(name) > maxFullNameLen {
		return "", domain.Invalid("ФИО слишком длинное (максимум %d символов)", maxFullNameLen)
	}
	return name, nil
}

func ValidateCity(raw string) (string, error) {
	city := strings.TrimSpace(raw)
	if city == "" {
		return "", domain.Invalid("город не может быть пустым")
	}
	if len(city) > maxCityLen {
		return "", domain.Invalid("название города слишком длинное (максимум %d символов)", maxCityLen)
	}
	return city, nil
}

const birthDateLayout = "02.01.2006"

// ParseBirthDate accepts ДД.ММ.ГГГГ not in the future and not before 1900.
func ParseBirthDate(raw string, today time.Time) (time.Time, error) {
	date, err := time.Parse(birthDateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, domain.Invalid("неверный формат, введите дату как ДД.ММ.ГГГГ")
	}
	if date.Year() < 1900 {
		return time.Time{}, domain.Invalid("дата рождения не может быть раньше 01.01.1900")
	}
	if date.After(today) {
		return time.Time{}, domain.Invalid("дата рождения не может быть в будущем")
	}
	return date, nil
}

// NormalizePhone validates the number and renders it in international
// format.
func NormalizePhone(raw string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), defaultPhoneRegion)
	if err != nil {
		return "", domain.Invalid("неверный формат номера, укажите номер с кодом страны, например +7 999 123-45-67")
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", domain.Invalid("номер телефона недействителен, введите корректный номер")
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL), nil
}

// ToggleSkill flips tag in the selection, preserving order of the rest.
func ToggleSkill(skills []string, tag string) []string {
	if i := slices.Index(skills, tag); i >= 0 {
		return slices.Delete(slices.Clone(skills), i, i+1)
	}
	return append(slices.Clone(skills), tag)
}

// CheckDocument enforces the attachment allow-list and size bound.
func CheckDocument(fileName, mimeType string, size int64, cfg *config.Config) error {
	if max := cfg.MaxDocumentSize(); size > 0 && size > max {
		return domain.Invalid("файл слишком большой, максимум %d МБ", cfg.MaxDocumentSizeMB)
	}
	if fileName != "" {
		if ext := strings.ToLower(filepath.Ext(fileName)); ext != "" && !slices.Contains(cfg.AllowedDocExtensions, ext) {
			return domain.Invalid("недопустимый тип файла, разрешены: %s",
				strings.Join(cfg.AllowedDocExtensions, ", "))
		}
	}
	if mimeType != "" && len(cfg.AllowedDocMimePrefixes) > 0 {
		allowed := false
		for _, p := range cfg.AllowedDocMimePrefixes {
			if strings.HasPrefix(strings.ToLower(mimeType), strings.ToLower(p)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return domain.Invalid("недопустимый тип файла, разрешены фото (JPEG, PNG) и PDF")
		}
	}
	return nil
}

var deadlineLayouts = []string{"02.01.2006 15:04", "02.01.2006"}

var noDeadlineWords = []string{"нет", "no", "-", "—"}

// ParseDeadline reads the tender deadline; "нет" and friends mean none. The
// wall clock is taken as UTC, matching how deadlines are compared later.
func ParseDeadline(raw string) (*time.Time, error) {
	text := strings.TrimSpace(raw)
	if text == "" || slices.Contains(noDeadlineWords, strings.ToLower(text)) {
		return nil, nil
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return &t, nil
		}
	}
	return nil, domain.Invalid("неверный формат, введите ДД.ММ.ГГГГ ЧЧ:ММ или «нет»")
}
