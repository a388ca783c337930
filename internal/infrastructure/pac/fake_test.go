package pac_test

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/pac"
)

const (
	stampUUID   = "6128396f-c09b-4ec6-8699-43c5a2e9a6b4"
	invoiceUUID = "5FB2822E-396D-4725-8521-CDC4BDD20CCF"
	signedXML   = `<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Version="4.0" Sello="U0VMTE8=" NoCertificado="30001000000400002434"/>`
)

// fakePAC servidor SOAP de pruebas: despacha por SOAPAction y cuenta llamadas.
type fakePAC struct {
	mu       sync.Mutex
	calls    map[string]int
	bodies   map[string][]string
	handlers map[string]http.HandlerFunc
}

func newFakePAC(t *testing.T) (*fakePAC, *httptest.Server) {
	t.Helper()
	f := &fakePAC{calls: map[string]int{}, bodies: map[string][]string{}, handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakePAC) on(op string, h http.HandlerFunc) { f.handlers[op] = h }

func (f *fakePAC) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakePAC) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakePAC) lastBody(op string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bodies[op]
	if len(b) == 0 {
		return ""
	}
	return b[len(b)-1]
}

func (f *fakePAC) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	op := r.Header.Get("SOAPAction")
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	f.mu.Lock()
	f.calls[op]++
	f.bodies[op] = append(f.bodies[op], string(body))
	h := f.handlers[op]
	f.mu.Unlock()

	if h == nil {
		http.Error(w, "operación no configurada: "+op, http.StatusInternalServerError)
		return
	}
	h(w, r)
}

func newClient(t *testing.T, srv *httptest.Server, opts ...pac.Option) *pac.Client {
	t.Helper()
	base := []pac.Option{pac.WithBaseURL(srv.URL), pac.WithTimeout(2 * time.Second)}
	c, err := pac.NewClient(pac.EnvDemo, pac.Credentials{Username: "demo@example.com", Password: "secreto"}, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

// ── Respuestas ───────────────────────────────────────────────────────────────

func envelope(inner string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
		inner + `</soap:Body></soap:Envelope>`
}

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func stampedXML(uuid string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Version="4.0" Sello="U0VMTE8=" NoCertificado="30001000000400002434">` +
		`<cfdi:Complemento><tfd:TimbreFiscalDigital xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital" Version="1.1" UUID="` + uuid +
		`" FechaTimbrado="2024-05-10T12:31:05" RfcProvCertif="SPR190613I52" SelloCFD="U0VMTE8=" NoCertificadoSAT="30001000000400002495" SelloSAT="U0FU"/>` +
		`</cfdi:Complemento></cfdi:Comprobante>`
}

func stampOK(op, uuid string) string {
	return envelope(fmt.Sprintf(
		`<tns:%[1]sResponse xmlns:tns="http://facturacion.finkok.com/stamp"><tns:%[1]sResult xmlns:s0="apps.services.soap.core.views">`+
			`<s0:xml>%[2]s</s0:xml><s0:UUID>%[3]s</s0:UUID><s0:Fecha>2024-05-10T12:31:05</s0:Fecha>`+
			`<s0:CodEstatus>Comprobante timbrado satisfactoriamente</s0:CodEstatus><s0:SatSeal>U0FU</s0:SatSeal>`+
			`<s0:NoCertificadoSAT>30001000000400002495</s0:NoCertificadoSAT><s0:Incidencias/></tns:%[1]sResult></tns:%[1]sResponse>`,
		op, escape(stampedXML(uuid)), uuid))
}

func stampIncidence(op, code, message string) string {
	return envelope(fmt.Sprintf(
		`<tns:%[1]sResponse xmlns:tns="http://facturacion.finkok.com/stamp"><tns:%[1]sResult xmlns:s0="apps.services.soap.core.views">`+
			`<s0:Incidencias><s0:Incidencia><s0:IdIncidencia>1</s0:IdIncidencia><s0:CodigoError>%[2]s</s0:CodigoError>`+
			`<s0:MensajeIncidencia>%[3]s</s0:MensajeIncidencia></s0:Incidencia></s0:Incidencias></tns:%[1]sResult></tns:%[1]sResponse>`,
		op, code, message))
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		_, _ = io.WriteString(w, body)
	}
}

// hang no responde hasta que el cliente abandona la petición.
func hang(w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(5 * time.Second):
	}
}

// reset cierra la conexión sin responder.
func reset(w http.ResponseWriter, _ *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("hijacking no soportado")
	}
	conn, _, err := hj.Hijack()
	if err == nil {
		_ = conn.Close()
	}
}

// sequence responde con cada handler en orden; el último se repite.
func sequence(hs ...http.HandlerFunc) http.HandlerFunc {
	var mu sync.Mutex
	i := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		h := hs[i]
		if i < len(hs)-1 {
			i++
		}
		mu.Unlock()
		h(w, r)
	}
}

// requestField extrae el texto de un elemento del cuerpo SOAP recibido.
func requestField(t *testing.T, body, name string) string {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == name {
			var v string
			require.NoError(t, dec.DecodeElement(&v, &se))
			return v
		}
	}
}
