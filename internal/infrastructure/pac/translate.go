package pac

import (
	"strings"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
)

type translation struct {
	kind  cfdi.Kind
	hint  cfdi.Hint
	cause error
	text  string
}

// finkokCodes códigos de incidencia documentados por Finkok.
var finkokCodes = map[string]translation{
	"300": {cfdi.KindConfig, cfdi.HintFixConfiguration, nil, "usuario o contraseña del PAC inválidos"},
	"301": {cfdi.KindValidation, cfdi.HintFixInvoiceData, nil, "XML mal formado"},
	"302": {cfdi.KindCertificate, cfdi.HintUploadValidCSD, nil, "sello mal formado o inválido"},
	"303": {cfdi.KindCertificate, cfdi.HintUploadValidCSD, cfdi.ErrKeyMismatch, "el sello no corresponde al emisor"},
	"304": {cfdi.KindCertificate, cfdi.HintUploadValidCSD, cfdi.ErrCertificateExpired, "certificado revocado o caduco"},
	"305": {cfdi.KindCertificate, cfdi.HintUploadValidCSD, cfdi.ErrCertificateExpired, "la fecha de emisión no está dentro de la vigencia del CSD"},
	"307": {cfdi.KindAlreadyStamp, cfdi.HintRecoverStamp, nil, "el CFDI ya fue timbrado previamente"},
	"401": {cfdi.KindValidation, cfdi.HintFixInvoiceData, nil, "fecha de emisión fuera del rango permitido"},
	"402": {cfdi.KindCertificate, cfdi.HintUploadValidCSD, nil, "el RFC del emisor no está en la lista de contribuyentes obligados"},
	"702": {cfdi.KindConfig, cfdi.HintRegisterEmitter, nil, "el emisor no está registrado en el PAC"},
	"703": {cfdi.KindConfig, cfdi.HintContactProvider, nil, "la cuenta del emisor está suspendida"},
	"704": {cfdi.KindCertificate, cfdi.HintCheckPassphrase, cfdi.ErrInvalidPassphrase, "contraseña de la llave privada incorrecta en el PAC"},
	"705": {cfdi.KindValidation, cfdi.HintFixInvoiceData, nil, "estructura XML inválida"},
	"708": {cfdi.KindTransient, cfdi.HintRetryLater, nil, "el PAC no pudo conectarse con el SAT"},
	"712": {cfdi.KindCertificate, cfdi.HintUploadValidCSD, nil, "NoCertificado no coincide con el certificado incluido"},
}

// Translate convierte un código del PAC en el error tipado del núcleo. Los códigos de
// validación del Anexo 20 (CFDI40xxx) son errores de datos; cualquier otro código
// desconocido es UnknownProviderError.
func Translate(code, message string) *cfdi.Error {
	code = strings.TrimSpace(code)
	message = strings.TrimSpace(message)

	if t, ok := finkokCodes[code]; ok {
		if message == "" {
			message = t.text
		}
		return &cfdi.Error{Kind: t.kind, Code: code, Message: message, Hint: t.hint, Err: t.cause}
	}
	if strings.HasPrefix(strings.ToUpper(code), "CFDI40") {
		if message == "" {
			message = "el comprobante no cumple la regla " + code + " del Anexo 20"
		}
		return &cfdi.Error{
			Kind:    cfdi.KindValidation,
			Code:    code,
			Message: message,
			Hint:    cfdi.HintFixInvoiceData,
			Fields:  []cfdi.FieldError{{Field: "xml", Rule: code, Message: message}},
		}
	}
	if message == "" {
		message = "error no clasificado del PAC"
	}
	return &cfdi.Error{Kind: cfdi.KindProvider, Code: code, Message: message, Hint: cfdi.HintContactProvider}
}
