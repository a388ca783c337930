package pac

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/sat"
)

// MaxStampCalls tope de llamadas de red por comprobante: quick_stamp, stamp y stamped.
// El plazo total de un timbrado debe cubrir MaxStampCalls veces el plazo por llamada.
const MaxStampCalls = 3

// codeAlreadyStamped el comprobante ya se había timbrado con anterioridad.
const codeAlreadyStamped = "307"

type stampRequest struct {
	XMLName  xml.Name
	Xmlns    string `xml:"xmlns,attr"`
	XML      string `xml:"xml"` // CFDI en Base64
	Username string `xml:"username"`
	Password string `xml:"password"`
}

type stampResponse struct {
	Result stampResult `xml:",any"`
}

type stampResult struct {
	XML              string      `xml:"xml"`
	UUID             string      `xml:"UUID"`
	Fecha            string      `xml:"Fecha"`
	CodEstatus       string      `xml:"CodEstatus"`
	SatSeal          string      `xml:"SatSeal"`
	NoCertificadoSAT string      `xml:"NoCertificadoSAT"`
	Incidencias      []incidence `xml:"Incidencias>Incidencia"`
}

type incidence struct {
	ID      string `xml:"IdIncidencia"`
	Code    string `xml:"CodigoError"`
	Message string `xml:"MensajeIncidencia"`
}

// stampAttempt lleva la cuenta de llamadas de un mismo comprobante.
type stampAttempt struct {
	xml   string
	calls int
}

// Stamp timbra un CFDI ya sellado. Intenta quick_stamp; si falla el transporte hace
// exactamente una llamada a stamp. Un código 307 se resuelve con stamped y devuelve
// el UUID original: un mismo documento nunca produce dos UUID.
func (c *Client) Stamp(ctx context.Context, signedXML string) (StampResult, error) {
	a := &stampAttempt{xml: signedXML}

	res, err := c.stampCall(ctx, a, MethodQuickStamp)
	if err != nil {
		// sin plazo del llamador no hay método alterno que intentar
		if !isTransient(err) || ctx.Err() != nil {
			return StampResult{}, err
		}
		c.log.Warn().Err(err).Msg("quick_stamp falló; usando stamp")
		res, err = c.stampCall(ctx, a, MethodStamp)
		if err != nil {
			return StampResult{}, err
		}
	}
	return c.resolve(ctx, a, res)
}

// SignStamp timbra un CFDI sin sello; el PAC lo sella con el CSD que custodia.
// No tiene método alterno: un fallo de transporte se devuelve como TransientError.
func (c *Client) SignStamp(ctx context.Context, unsignedXML string) (StampResult, error) {
	a := &stampAttempt{xml: unsignedXML}
	res, err := c.stampCall(ctx, a, MethodSignStamp)
	if err != nil {
		return StampResult{}, err
	}
	return c.resolve(ctx, a, res)
}

// resolve interpreta la respuesta de timbrado; un 307 dispara la recuperación.
func (c *Client) resolve(ctx context.Context, a *stampAttempt, res stampCallResult) (StampResult, error) {
	if inc, ok := res.incidence(); ok {
		if inc.Code != codeAlreadyStamped {
			return StampResult{}, Translate(inc.Code, inc.Message)
		}
		c.log.Info().Str("code", inc.Code).Msg("CFDI timbrado previamente; recuperando timbre")
		rec, err := c.recover(ctx, a)
		if err != nil {
			return StampResult{}, err
		}
		rec.Recovered = true
		return rec, nil
	}
	return res.toResult(a.calls)
}

// recover consulta stamped; es de solo lectura y se reintenta una vez si queda presupuesto.
func (c *Client) recover(ctx context.Context, a *stampAttempt) (StampResult, error) {
	res, err := c.stampCall(ctx, a, MethodStamped)
	if err != nil && isTransient(err) && a.calls < MaxStampCalls && ctx.Err() == nil {
		res, err = c.stampCall(ctx, a, MethodStamped)
	}
	if err != nil {
		return StampResult{}, err
	}
	if inc, ok := res.incidence(); ok {
		return StampResult{}, Translate(inc.Code, inc.Message)
	}
	return res.toResult(a.calls)
}

type stampCallResult struct {
	method Method
	result stampResult
}

func (c *Client) stampCall(ctx context.Context, a *stampAttempt, m Method) (stampCallResult, error) {
	if a.calls >= MaxStampCalls {
		return stampCallResult{}, cfdi.NewTransientError("pac: se agotaron los intentos de timbrado", nil)
	}
	a.calls++
	body := stampRequest{
		XMLName:  xml.Name{Local: string(m)},
		Xmlns:    serviceNS(serviceStamp),
		XML:      base64.StdEncoding.EncodeToString([]byte(a.xml)),
		Username: c.creds.Username,
		Password: c.creds.Password,
	}
	c.log.Debug().Str("op", string(m)).Int("attempt", a.calls).Msg("timbrando")
	rb, err := c.call(ctx, serviceStamp, string(m), body)
	if err != nil {
		return stampCallResult{}, err
	}
	var sr *stampResponse
	switch m {
	case MethodQuickStamp:
		sr = rb.QuickStamp
	case MethodStamp:
		sr = rb.Stamp
	case MethodStamped:
		sr = rb.Stamped
	case MethodSignStamp:
		sr = rb.SignStamp
	}
	if sr == nil {
		return stampCallResult{}, emptyResponse(string(m))
	}
	return stampCallResult{method: m, result: sr.Result}, nil
}

// incidence primera incidencia reportada, si la respuesta no trae timbre.
func (r stampCallResult) incidence() (incidence, bool) {
	if len(r.result.Incidencias) > 0 {
		inc := r.result.Incidencias[0]
		inc.Code = strings.TrimSpace(inc.Code)
		return inc, true
	}
	return incidence{}, false
}

// toResult toma los datos del TimbreFiscalDigital del XML devuelto; son la fuente
// autoritativa del UUID y del sello del SAT.
func (r stampCallResult) toResult(calls int) (StampResult, error) {
	xmlDoc := strings.TrimSpace(r.result.XML)
	if xmlDoc == "" {
		return StampResult{}, &cfdi.Error{
			Kind:    cfdi.KindProvider,
			Code:    strings.TrimSpace(r.result.CodEstatus),
			Message: fmt.Sprintf("%s no devolvió el XML timbrado", r.method),
			Hint:    cfdi.HintReconcileStatus,
		}
	}
	doc, err := sat.ParseStampedXML(xmlDoc)
	if err != nil {
		return StampResult{}, &cfdi.Error{
			Kind:    cfdi.KindProvider,
			Message: fmt.Sprintf("%s devolvió un XML timbrado inválido", r.method),
			Hint:    cfdi.HintReconcileStatus,
			Err:     err,
		}
	}
	out := StampResult{
		UUID:                 doc.UUID,
		XML:                  xmlDoc,
		StampedAt:            doc.StampedAt,
		PACSeal:              doc.PACSeal,
		PACCertificateNumber: doc.PACCertificateNumber,
		Method:               r.method,
		Calls:                calls,
	}
	if out.PACSeal == "" {
		out.PACSeal = r.result.SatSeal
	}
	if out.PACCertificateNumber == "" {
		out.PACCertificateNumber = r.result.NoCertificadoSAT
	}
	return out, nil
}
