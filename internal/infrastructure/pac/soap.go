package pac

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
)

// ── Constantes SOAP ───────────────────────────────────────────────────────────

const (
	soapNS = "http://schemas.xmlsoap.org/soap/envelope/"

	serviceStamp        = "stamp"
	serviceCancel       = "cancel"
	serviceRegistration = "registration"

	maxResponseBytes = 1 << 20 // 1 MB
	defaultTimeout   = 30 * time.Second
)

func serviceNS(service string) string {
	return "http://facturacion.finkok.com/" + service
}

// ── Cliente ───────────────────────────────────────────────────────────────────

// Client cliente SOAP de Finkok. Es seguro para uso concurrente.
type Client struct {
	env        Environment
	baseURL    string
	creds      Credentials
	reseller   Credentials
	httpClient *http.Client
	timeout    time.Duration // plazo de cada llamada de red
	log        zerolog.Logger
	now        func() time.Time
}

// Option configura el cliente.
type Option func(*Client)

// WithHTTPClient reemplaza el http.Client (timeouts, transporte, pruebas).
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }

// WithBaseURL sustituye la URL del ambiente (p. ej. un servidor de pruebas).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout plazo de cada llamada de red. Cada intento (quick_stamp, stamp, stamped)
// tiene el suyo; no se reparte entre intentos.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithReseller credenciales de socio, requeridas por el servicio registration.
func WithReseller(creds Credentials) Option { return func(c *Client) { c.reseller = creds } }

// WithLogger logger del componente.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithClock reloj usado para fechar solicitudes de cancelación.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// NewClient construye el cliente para el ambiente y la cuenta dados.
func NewClient(env Environment, creds Credentials, opts ...Option) (*Client, error) {
	c := &Client{
		env:        env,
		baseURL:    env.BaseURL(),
		creds:      creds,
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
		log:        zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		return nil, cfdi.NewConfigError("pac: ambiente desconocido %q (usar demo o prod)", env)
	}
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return nil, cfdi.NewConfigError("pac: usuario y contraseña del PAC son obligatorios")
	}
	c.log = c.log.With().Str("pac_env", string(env)).Str("pac_user", creds.Username).Logger()
	return c, nil
}

// Environment ambiente del cliente.
func (c *Client) Environment() Environment { return c.env }

// Username usuario del PAC.
func (c *Client) Username() string { return c.creds.Username }

// StampBudget plazo mínimo para que un timbrado agote sus MaxStampCalls llamadas.
func (c *Client) StampBudget() time.Duration { return MaxStampCalls * c.timeout }

// ── Envelope ──────────────────────────────────────────────────────────────────

type soapEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	XmlnsS  string   `xml:"xmlns:soapenv,attr"`
	Header  struct{} `xml:"soapenv:Header"`
	Body    soapBody `xml:"soapenv:Body"`
}

type soapBody struct {
	Content any
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soapenv:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// ── Respuestas ───────────────────────────────────────────────────────────────

type responseEnvelope struct {
	Body responseBody `xml:"Body"`
}

// responseBody variantes por operación; cada respuesta se decodifica una sola vez aquí.
type responseBody struct {
	Fault      *soapFault            `xml:"Fault"`
	QuickStamp *stampResponse        `xml:"quick_stampResponse"`
	Stamp      *stampResponse        `xml:"stampResponse"`
	Stamped    *stampResponse        `xml:"stampedResponse"`
	SignStamp  *stampResponse        `xml:"sign_stampResponse"`
	Cancel     *cancelResponse       `xml:"cancel_signatureResponse"`
	Status     *statusResponse       `xml:"get_sat_statusResponse"`
	Add        *registrationResponse `xml:"addResponse"`
	Edit       *registrationResponse `xml:"editResponse"`
	GetEmitter *getResponse          `xml:"getResponse"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

// ── Transporte ────────────────────────────────────────────────────────────────

// call envía una operación SOAP y decodifica el cuerpo de la respuesta.
// Los fallos de transporte (timeout, conexión rechazada o reiniciada, 502/503/504)
// se devuelven como TransientError; el resto como errores del proveedor.
func (c *Client) call(ctx context.Context, service, op string, body any) (*responseBody, error) {
	payload, err := xml.Marshal(soapEnvelope{XmlnsS: soapNS, Body: soapBody{Content: body}})
	if err != nil {
		return nil, fmt.Errorf("pac: serializar envelope %s: %w", op, err)
	}

	// plazo propio de este intento; el del llamador sigue acotando el total
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + "/servicios/soap/" + service
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, cfdi.NewConfigError("pac: crear request %s: %v", op, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", op)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Dur("elapsed", time.Since(start)).Msg("fallo de transporte")
		return nil, cfdi.NewTransientError(fmt.Sprintf("pac: %s sin respuesta", op), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, cfdi.NewTransientError(fmt.Sprintf("pac: leer respuesta de %s", op), err)
	}
	c.log.Debug().Str("op", op).Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("respuesta del PAC")

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, cfdi.NewTransientError(fmt.Sprintf("pac: %s respondió HTTP %d", op, resp.StatusCode), nil)
	}

	var env responseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, &cfdi.Error{
			Kind:    cfdi.KindProvider,
			Message: fmt.Sprintf("respuesta SOAP ilegible de %s (HTTP %d)", op, resp.StatusCode),
			Hint:    cfdi.HintContactProvider,
			Err:     err,
		}
	}
	if f := env.Body.Fault; f != nil {
		return nil, &cfdi.Error{
			Kind:    cfdi.KindProvider,
			Code:    strings.TrimSpace(f.FaultCode),
			Message: strings.TrimSpace(f.FaultString),
			Hint:    cfdi.HintContactProvider,
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &cfdi.Error{
			Kind:    cfdi.KindProvider,
			Message: fmt.Sprintf("%s respondió HTTP %d", op, resp.StatusCode),
			Hint:    cfdi.HintContactProvider,
		}
	}
	return &env.Body, nil
}

// callIdempotent llamadas de solo lectura: un reintento si el primero falla por transporte.
func (c *Client) callIdempotent(ctx context.Context, service, op string, body any) (*responseBody, error) {
	res, err := c.call(ctx, service, op, body)
	if err == nil || !isTransient(err) || ctx.Err() != nil {
		return res, err
	}
	c.log.Info().Str("op", op).Msg("reintentando operación de solo lectura")
	return c.call(ctx, service, op, body)
}

func isTransient(err error) bool {
	return errors.Is(err, cfdi.ErrTransient)
}

func emptyResponse(op string) error {
	return &cfdi.Error{
		Kind:    cfdi.KindProvider,
		Message: fmt.Sprintf("respuesta SOAP sin resultado de %s", op),
		Hint:    cfdi.HintContactProvider,
	}
}
