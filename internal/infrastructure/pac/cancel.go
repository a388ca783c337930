package pac

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"strings"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/sat"
)

type cancelRequest struct {
	XMLName      xml.Name `xml:"cancel_signature"`
	Xmlns        string   `xml:"xmlns,attr"`
	XML          string   `xml:"xml"` // solicitud firmada en Base64
	Username     string   `xml:"username"`
	Password     string   `xml:"password"`
	StorePending bool     `xml:"store_pending"`
}

type cancelResponse struct {
	Result cancelResult `xml:"cancel_signatureResult"`
}

type cancelResult struct {
	Folios     []cancelFolio `xml:"Folios>Folio"`
	Acuse      string        `xml:"Acuse"`
	Fecha      string        `xml:"Fecha"`
	RfcEmisor  string        `xml:"RfcEmisor"`
	CodEstatus string        `xml:"CodEstatus"`
}

type cancelFolio struct {
	UUID               string `xml:"UUID"`
	EstatusUUID        string `xml:"EstatusUUID"`
	EstatusCancelacion string `xml:"EstatusCancelacion"`
}

// Códigos EstatusUUID de cancel_signature.
const (
	cancelCodeAccepted     = "201"
	cancelCodePrevious     = "202"
	cancelCodeRFCMismatch  = "203"
	cancelCodeNotFound     = "205"
	cancelCodeNoCancelable = "no_cancelable"
)

// Cancel firma y envía la solicitud de cancelación. El motivo 01 sin folio de
// sustitución falla antes de cualquier llamada de red. cancel_signature no se
// reintenta: ante un fallo de transporte el llamador concilia con GetStatus.
func (c *Client) Cancel(ctx context.Context, p CancelParams) (CancelResult, error) {
	if err := p.Request.Validate(); err != nil {
		return CancelResult{}, err
	}
	if p.Credential.Key == nil {
		return CancelResult{}, cfdi.NewCertificateError(cfdi.ErrCertificateNotFound, "se requiere el CSD del emisor para firmar la cancelación")
	}

	signed, err := sat.BuildCancellationXML(sat.CancellationDocument{
		EmitterRFC: p.EmitterRFC,
		IssuedAt:   c.now().In(sat.MexicoCity),
		Folios:     []cfdi.CancellationRequest{p.Request},
	}, p.Credential)
	if err != nil {
		return CancelResult{}, err
	}

	log := c.log.With().Str("uuid", strings.ToUpper(p.Request.UUID)).Str("motivo", p.Request.Reason).Logger()
	log.Info().Msg("enviando cancelación")
	rb, err := c.call(ctx, serviceCancel, "cancel_signature", cancelRequest{
		Xmlns:    serviceNS(serviceCancel),
		XML:      base64.StdEncoding.EncodeToString([]byte(signed)),
		Username: c.creds.Username,
		Password: c.creds.Password,
	})
	if err != nil {
		if isTransient(err) {
			return CancelResult{}, &cfdi.Error{
				Kind:    cfdi.KindTransient,
				Message: "cancelación sin respuesta; consultar estatus antes de reintentar",
				Hint:    cfdi.HintReconcileStatus,
				Err:     err,
			}
		}
		return CancelResult{}, err
	}
	if rb.Cancel == nil {
		return CancelResult{}, emptyResponse("cancel_signature")
	}

	res, err := cancelOutcome(rb.Cancel.Result, p.Request.UUID)
	if err != nil {
		log.Warn().Err(err).Msg("cancelación rechazada")
		return CancelResult{}, err
	}
	log.Info().Str("outcome", string(res.Outcome)).Str("estatus", res.StatusCode).Msg("cancelación procesada")
	return res, nil
}

// cancelOutcome traduce la respuesta a un resultado de negocio. Solo los códigos sin
// significado de cancelación se devuelven como error.
func cancelOutcome(r cancelResult, uuid string) (CancelResult, error) {
	if len(r.Folios) == 0 {
		code := strings.TrimSpace(r.CodEstatus)
		return CancelResult{}, translateCancel(code, code)
	}
	f := r.Folios[0]
	for _, candidate := range r.Folios {
		if strings.EqualFold(candidate.UUID, uuid) {
			f = candidate
			break
		}
	}

	out := CancelResult{
		UUID:               strings.ToUpper(strings.TrimSpace(f.UUID)),
		StatusCode:         strings.TrimSpace(f.EstatusUUID),
		CancellationStatus: strings.TrimSpace(f.EstatusCancelacion),
		Receipt:            r.Acuse,
		Date:               r.Fecha,
	}
	if out.UUID == "" {
		out.UUID = strings.ToUpper(uuid)
	}

	status := strings.ToLower(out.CancellationStatus)
	switch {
	case out.StatusCode == cancelCodeNoCancelable || strings.Contains(status, "no cancelable"):
		out.Outcome = OutcomeNotCancelable
	case out.StatusCode == cancelCodeAccepted && strings.Contains(status, "en proceso"):
		out.Outcome = OutcomePendingAcceptance
	case out.StatusCode == cancelCodeAccepted:
		out.Outcome = OutcomeCancelled
	case out.StatusCode == cancelCodePrevious:
		out.Outcome = OutcomeAlreadyCancelled
	case out.StatusCode == cancelCodeRFCMismatch:
		out.Outcome = OutcomeCertificateMismatch
	case out.StatusCode == cancelCodeNotFound:
		out.Outcome = OutcomeNotFound
	default:
		return CancelResult{}, translateCancel(out.StatusCode, out.CancellationStatus)
	}
	return out, nil
}

func translateCancel(code, message string) error {
	e := Translate(code, message)
	if e.Kind == cfdi.KindProvider {
		e.Kind = cfdi.KindCancellation
	}
	return e
}
