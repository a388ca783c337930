package pac

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	pkgsat "github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

type addRequest struct {
	XMLName          xml.Name `xml:"add"`
	Xmlns            string   `xml:"xmlns,attr"`
	ResellerUsername string   `xml:"reseller_username"`
	ResellerPassword string   `xml:"reseller_password"`
	TaxpayerID       string   `xml:"taxpayer_id"`
	TypeUser         string   `xml:"type_user"`
	Cer              string   `xml:"cer"`
	Key              string   `xml:"key"`
	Passphrase       string   `xml:"passphrase"`
}

type editRequest struct {
	XMLName          xml.Name `xml:"edit"`
	Xmlns            string   `xml:"xmlns,attr"`
	ResellerUsername string   `xml:"reseller_username"`
	ResellerPassword string   `xml:"reseller_password"`
	TaxpayerID       string   `xml:"taxpayer_id"`
	Status           string   `xml:"status,omitempty"`
	Cer              string   `xml:"cer,omitempty"`
	Key              string   `xml:"key,omitempty"`
	Passphrase       string   `xml:"passphrase,omitempty"`
}

type getRequest struct {
	XMLName          xml.Name `xml:"get"`
	Xmlns            string   `xml:"xmlns,attr"`
	ResellerUsername string   `xml:"reseller_username"`
	ResellerPassword string   `xml:"reseller_password"`
	TaxpayerID       string   `xml:"taxpayer_id"`
}

type registrationResponse struct {
	Result struct {
		Success bool   `xml:"success"`
		Message string `xml:"message"`
	} `xml:",any"`
}

type getResponse struct {
	Result struct {
		Message string         `xml:"message"`
		Users   []resellerUser `xml:"users>ResellerUser"`
	} `xml:"getResult"`
}

type resellerUser struct {
	TaxpayerID string `xml:"taxpayer_id"`
	Status     string `xml:"status"`
	Counter    string `xml:"counter"`
	Credit     string `xml:"credit"`
}

func (c *Client) resellerCreds() (Credentials, error) {
	if c.reseller.Username == "" || c.reseller.Password == "" {
		return Credentials{}, cfdi.NewConfigError("pac: el servicio registration requiere credenciales de socio")
	}
	return c.reseller, nil
}

// AddEmitter da de alta un emisor con su CSD en la cuenta de socio.
func (c *Client) AddEmitter(ctx context.Context, p EmitterParams) (RegistrationResult, error) {
	rc, err := c.resellerCreds()
	if err != nil {
		return RegistrationResult{}, err
	}
	if err := validateEmitterRFC(p.RFC); err != nil {
		return RegistrationResult{}, err
	}
	typ := p.Type
	if typ == "" {
		typ = EmitterOnDemand
	}
	rb, err := c.call(ctx, serviceRegistration, "add", addRequest{
		Xmlns:            serviceNS(serviceRegistration),
		ResellerUsername: rc.Username,
		ResellerPassword: rc.Password,
		TaxpayerID:       pkgsat.NormalizeRFC(p.RFC),
		TypeUser:         string(typ),
		Cer:              base64.StdEncoding.EncodeToString(p.Certificate),
		Key:              base64.StdEncoding.EncodeToString(p.Key),
		Passphrase:       p.Passphrase,
	})
	if err != nil {
		return RegistrationResult{}, err
	}
	if rb.Add == nil {
		return RegistrationResult{}, emptyResponse("add")
	}
	c.log.Info().Str("rfc", pkgsat.NormalizeRFC(p.RFC)).Bool("success", rb.Add.Result.Success).Msg("alta de emisor")
	return RegistrationResult{Success: rb.Add.Result.Success, Message: rb.Add.Result.Message}, nil
}

// EditEmitter cambia el estado o el CSD de un emisor. Los campos vacíos no se envían.
func (c *Client) EditEmitter(ctx context.Context, p EmitterParams) (RegistrationResult, error) {
	rc, err := c.resellerCreds()
	if err != nil {
		return RegistrationResult{}, err
	}
	if err := validateEmitterRFC(p.RFC); err != nil {
		return RegistrationResult{}, err
	}
	req := editRequest{
		Xmlns:            serviceNS(serviceRegistration),
		ResellerUsername: rc.Username,
		ResellerPassword: rc.Password,
		TaxpayerID:       pkgsat.NormalizeRFC(p.RFC),
		Status:           string(p.Status),
		Passphrase:       p.Passphrase,
	}
	if len(p.Certificate) > 0 {
		req.Cer = base64.StdEncoding.EncodeToString(p.Certificate)
	}
	if len(p.Key) > 0 {
		req.Key = base64.StdEncoding.EncodeToString(p.Key)
	}
	rb, err := c.call(ctx, serviceRegistration, "edit", req)
	if err != nil {
		return RegistrationResult{}, err
	}
	if rb.Edit == nil {
		return RegistrationResult{}, emptyResponse("edit")
	}
	return RegistrationResult{Success: rb.Edit.Result.Success, Message: rb.Edit.Result.Message}, nil
}

// GetEmitter consulta la cuenta de un emisor. Devuelve ErrCertificateNotFound si el
// PAC no lo tiene registrado.
func (c *Client) GetEmitter(ctx context.Context, rfc string) (Emitter, error) {
	rc, err := c.resellerCreds()
	if err != nil {
		return Emitter{}, err
	}
	if err := validateEmitterRFC(rfc); err != nil {
		return Emitter{}, err
	}
	rb, err := c.callIdempotent(ctx, serviceRegistration, "get", getRequest{
		Xmlns:            serviceNS(serviceRegistration),
		ResellerUsername: rc.Username,
		ResellerPassword: rc.Password,
		TaxpayerID:       pkgsat.NormalizeRFC(rfc),
	})
	if err != nil {
		return Emitter{}, err
	}
	if rb.GetEmitter == nil {
		return Emitter{}, emptyResponse("get")
	}
	for _, u := range rb.GetEmitter.Result.Users {
		if !strings.EqualFold(strings.TrimSpace(u.TaxpayerID), pkgsat.NormalizeRFC(rfc)) {
			continue
		}
		counter, _ := strconv.Atoi(strings.TrimSpace(u.Counter))
		credit, _ := strconv.Atoi(strings.TrimSpace(u.Credit))
		return Emitter{
			RFC:     strings.ToUpper(strings.TrimSpace(u.TaxpayerID)),
			Status:  EmitterStatus(strings.TrimSpace(u.Status)),
			Counter: counter,
			Credit:  credit,
		}, nil
	}
	return Emitter{}, &cfdi.Error{
		Kind:    cfdi.KindConfig,
		Message: "el emisor no está registrado en el PAC",
		Hint:    cfdi.HintRegisterEmitter,
		Err:     cfdi.ErrCertificateNotFound,
	}
}

func validateEmitterRFC(rfc string) error {
	if err := pkgsat.ValidateRFC(rfc); err != nil {
		return cfdi.NewValidationError([]cfdi.FieldError{{Field: "rfc", Rule: "rfc", Message: err.Error()}}, err)
	}
	return nil
}
