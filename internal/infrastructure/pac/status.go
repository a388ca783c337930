package pac

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	pkgsat "github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

type statusRequest struct {
	XMLName    xml.Name `xml:"get_sat_status"`
	Xmlns      string   `xml:"xmlns,attr"`
	Username   string   `xml:"username"`
	Password   string   `xml:"password"`
	TaxpayerID string   `xml:"taxpayer_id"`
	Receiver   string   `xml:"rtaxpayer_id"`
	UUID       string   `xml:"uuid"`
	Total      string   `xml:"total"`
}

type statusResponse struct {
	Result statusResult `xml:"get_sat_statusResult"`
}

type statusResult struct {
	SAT   satStatus `xml:"sat"`
	Error string    `xml:"error"`
}

type satStatus struct {
	CodigoEstatus      string `xml:"CodigoEstatus"`
	EsCancelable       string `xml:"EsCancelable"`
	Estado             string `xml:"Estado"`
	EstatusCancelacion string `xml:"EstatusCancelacion"`
	ValidacionEFOS     string `xml:"ValidacionEFOS"`
}

// GetStatus consulta el estatus del comprobante en el SAT, fuera de la máquina de estados
// local. Es de solo lectura: se reintenta una vez ante fallos de transporte.
func (c *Client) GetStatus(ctx context.Context, q StatusQuery) (StatusResult, error) {
	if !cfdi.IsCanonicalUUID(q.UUID) {
		return StatusResult{}, cfdi.NewValidationError([]cfdi.FieldError{{Field: "uuid", Rule: "uuid", Message: "UUID inválido"}}, nil)
	}
	rb, err := c.callIdempotent(ctx, serviceCancel, "get_sat_status", statusRequest{
		Xmlns:      serviceNS(serviceCancel),
		Username:   c.creds.Username,
		Password:   c.creds.Password,
		TaxpayerID: pkgsat.NormalizeRFC(q.EmitterRFC),
		Receiver:   pkgsat.NormalizeRFC(q.ReceiverRFC),
		UUID:       strings.ToUpper(q.UUID),
		Total:      cfdi.FormatMoney(q.Total),
	})
	if err != nil {
		return StatusResult{}, err
	}
	if rb.Status == nil {
		return StatusResult{}, emptyResponse("get_sat_status")
	}
	return statusOutcome(rb.Status.Result)
}

func statusOutcome(r statusResult) (StatusResult, error) {
	s := r.SAT
	out := StatusResult{
		Code:               strings.TrimSpace(s.CodigoEstatus),
		Cancelable:         strings.TrimSpace(s.EsCancelable),
		CancellationStatus: strings.TrimSpace(s.EstatusCancelacion),
		EFOS:               strings.TrimSpace(s.ValidacionEFOS),
	}
	switch strings.ToLower(strings.TrimSpace(s.Estado)) {
	case "vigente":
		out.Status = StatusValid
	case "cancelado":
		out.Status = StatusCancelled
	case "no encontrado":
		out.Status = StatusNotFound
	default:
		// N - 602: comprobante no encontrado
		if strings.Contains(out.Code, "602") {
			out.Status = StatusNotFound
			return out, nil
		}
		msg := strings.TrimSpace(r.Error)
		if msg == "" {
			msg = out.Code
		}
		return StatusResult{}, Translate("", msg)
	}
	return out, nil
}
