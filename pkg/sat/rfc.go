package sat

import (
	"fmt"
	"regexp"
	"strings"
)

// rfcPattern acepta personas morales (3 letras) y físicas (4 letras), fecha AAMMDD y homoclave.
var rfcPattern = regexp.MustCompile(`^[A-ZÑ&]{3,4}[0-9]{6}[A-Z0-9]{3}$`)

// rfcAlphabet valores del algoritmo de dígito verificador (posición = valor).
const rfcAlphabet = "0123456789ABCDEFGHIJKLMN&OPQRSTUVWXYZ Ñ"

// NormalizeRFC pasa a mayúsculas y elimina espacios y guiones.
func NormalizeRFC(rfc string) string {
	r := strings.ToUpper(strings.TrimSpace(rfc))
	r = strings.ReplaceAll(r, "-", "")
	return strings.ReplaceAll(r, " ", "")
}

// IsGenericRFC indica si el RFC es el genérico nacional o extranjero.
func IsGenericRFC(rfc string) bool {
	r := NormalizeRFC(rfc)
	return r == RFCGenericNational || r == RFCGenericForeign
}

// MatchRFC valida solo la forma del RFC.
func MatchRFC(rfc string) bool {
	return rfcPattern.MatchString(NormalizeRFC(rfc))
}

// ValidateRFC valida forma y dígito verificador. Los RFC genéricos no llevan dígito calculable.
func ValidateRFC(rfc string) error {
	r := NormalizeRFC(rfc)
	if !rfcPattern.MatchString(r) {
		return fmt.Errorf("sat: RFC %q con formato inválido", rfc)
	}
	if IsGenericRFC(r) {
		return nil
	}
	runes := []rune(r)
	expected, err := ComputeRFCCheckDigit(string(runes[:len(runes)-1]))
	if err != nil {
		return err
	}
	if got := runes[len(runes)-1]; got != expected {
		return fmt.Errorf("sat: dígito verificador del RFC inválido: esperado %c, recibido %c", expected, got)
	}
	return nil
}

// ComputeRFCCheckDigit calcula el dígito verificador para los primeros 11 (moral) o 12 (física) caracteres.
// Las personas morales se completan con un espacio a la izquierda para tener 12 posiciones.
func ComputeRFCCheckDigit(base string) (rune, error) {
	runes := []rune(NormalizeRFC(base))
	switch len(runes) {
	case 11:
		runes = append([]rune{' '}, runes...)
	case 12:
	default:
		return 0, fmt.Errorf("sat: se requieren 11 o 12 caracteres para el dígito verificador, se recibieron %d", len(runes))
	}
	alphabet := []rune(rfcAlphabet)
	var sum int
	for i, r := range runes {
		v := indexRune(alphabet, r)
		if v < 0 {
			return 0, fmt.Errorf("sat: carácter %q no válido en RFC", r)
		}
		sum += v * (13 - i)
	}
	switch rem := sum % 11; rem {
	case 0:
		return '0', nil
	case 1:
		return 'A', nil
	default:
		return rune('0' + 11 - rem), nil
	}
}

func indexRune(alphabet []rune, r rune) int {
	for i, a := range alphabet {
		if a == r {
			return i
		}
	}
	return -1
}
