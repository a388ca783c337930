package timbrado

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/csd"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/pac"
	"github.com/jhoicas/facturacion-cfdi/internal/infrastructure/sat"
	pkgsat "github.com/jhoicas/facturacion-cfdi/pkg/sat"
)

const (
	// pac.MaxStampCalls llamadas con el plazo por llamada del cliente (30s)
	defaultStampTimeout = 90 * time.Second
	// el candado sobrevive al timbrado aunque el registro en bitácora se demore
	guardTTLFactor = 3
	// registro en bitácora tras la llamada al PAC, cuyo plazo pudo haberse agotado
	journalTimeout = 5 * time.Second
)

// Pipeline orquestador del timbrado. Seguro para uso concurrente.
type Pipeline struct {
	pac          PAC
	creds        Credentials
	guard        Guard
	journal      Journal
	stampTimeout time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

// Option configura el Pipeline.
type Option func(*Pipeline)

// WithGuard candado distribuido; por defecto no hay candado.
func WithGuard(g Guard) Option { return func(p *Pipeline) { p.guard = g } }

// WithJournal bitácora de estados; por defecto en memoria.
func WithJournal(j Journal) Option { return func(p *Pipeline) { p.journal = j } }

// WithStampTimeout tiempo máximo de la operación de timbrado completa.
func WithStampTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.stampTimeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option { return func(p *Pipeline) { p.log = l } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// NewPipeline construye el orquestador.
func NewPipeline(provider PAC, creds Credentials, opts ...Option) *Pipeline {
	p := &Pipeline{
		pac:          provider,
		creds:        creds,
		journal:      NewMemoryJournal(),
		stampTimeout: defaultStampTimeout,
		log:          zerolog.Nop(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Issue sella y timbra un borrador con el CSD del emisor.
//
// Devuelve el comprobante timbrado o un *cfdi.Error. AlreadyStamped nunca llega al
// llamador: el cliente del PAC recupera el timbre original.
func (p *Pipeline) Issue(ctx context.Context, draft cfdi.InvoiceDraft) (cfdi.StampedInvoice, error) {
	draft = draft.Clone()
	if err := cfdi.ValidateDraft(draft); err != nil {
		return cfdi.StampedInvoice{}, err
	}
	cred, err := p.credential(ctx, draft.Emitter.RFC)
	if err != nil {
		return cfdi.StampedInvoice{}, err
	}

	cadena, err := sat.BuildCadenaOriginal(draft, cred.Certificate.Number)
	if err != nil {
		return cfdi.StampedInvoice{}, err
	}
	seal, err := sat.Sign(cadena, cred.Key)
	if err != nil {
		return cfdi.StampedInvoice{}, err
	}
	signedXML, err := sat.BuildInvoiceXML(draft, sat.ModeFinal, sat.SealInfo{
		Seal:              seal,
		CertificateNumber: cred.Certificate.Number,
		Certificate:       cred.Certificate.Base64(),
	})
	if err != nil {
		return cfdi.StampedInvoice{}, err
	}

	log := p.log.With().Str("serie", draft.Series).Str("folio", draft.Folio).
		Str("rfc", pkgsat.NormalizeRFC(draft.Emitter.RFC)).Logger()
	res, err := p.stamp(ctx, draftDocument(documentKey(cadena), draft), log, func(ctx context.Context) (pac.StampResult, error) {
		return p.pac.Stamp(ctx, signedXML)
	})
	if err != nil {
		return cfdi.StampedInvoice{}, err
	}
	return cfdi.NewStampedInvoice(draft, res.StampData(seal))
}

// IssueWithPACSeal envía el XML sin sello: el PAC sella con el CSD que custodia.
func (p *Pipeline) IssueWithPACSeal(ctx context.Context, draft cfdi.InvoiceDraft) (cfdi.StampedInvoice, error) {
	draft = draft.Clone()
	if err := cfdi.ValidateDraft(draft); err != nil {
		return cfdi.StampedInvoice{}, err
	}
	unsigned, err := sat.BuildInvoiceXML(draft, sat.ModeOmitSignature, sat.SealInfo{})
	if err != nil {
		return cfdi.StampedInvoice{}, err
	}
	key := sha256.Sum256([]byte(unsigned))

	log := p.log.With().Str("serie", draft.Series).Str("folio", draft.Folio).Str("metodo", "sign_stamp").Logger()
	res, err := p.stamp(ctx, draftDocument(hex.EncodeToString(key[:]), draft), log, func(ctx context.Context) (pac.StampResult, error) {
		return p.pac.SignStamp(ctx, unsigned)
	})
	if err != nil {
		return cfdi.StampedInvoice{}, err
	}
	doc, err := sat.ParseStampedXML(res.XML)
	if err != nil {
		return cfdi.StampedInvoice{}, err
	}
	return cfdi.NewStampedInvoice(draft, res.StampData(doc.CFDISeal))
}

// stamp ejecuta la llamada al PAC bajo candado y registra las transiciones.
// La llamada se desacopla de la cancelación del llamador: un timbre a medio camino
// se termina o se deja en Pending para conciliar, nunca se abandona.
func (p *Pipeline) stamp(ctx context.Context, doc document, log zerolog.Logger,
	call func(context.Context) (pac.StampResult, error)) (pac.StampResult, error) {
	key := doc.Key

	if p.guard != nil {
		token, err := p.guard.Acquire(ctx, key, guardTTLFactor*p.stampTimeout)
		if err != nil {
			if errors.Is(err, cfdi.ErrStampInFlight) {
				log.Warn().Str("documento", key).Msg("timbrado en curso, solicitud rechazada")
			}
			return pac.StampResult{}, err
		}
		defer func() {
			if err := p.guard.Release(context.WithoutCancel(ctx), key, token); err != nil {
				log.Warn().Err(err).Msg("no se pudo liberar el candado de timbrado")
			}
		}()
	}

	if err := p.enterStamping(ctx, doc); err != nil {
		return pac.StampResult{}, err
	}

	stampCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.stampTimeout)
	defer cancel()
	start := p.now()
	res, err := call(stampCtx)
	if err != nil {
		to := cfdi.StateStampError
		if errors.Is(err, cfdi.ErrTransient) {
			to = cfdi.StatePending
		}
		p.record(ctx, doc.entry(cfdi.StateStamping, to, JournalEntry{Code: errorCode(err), Message: err.Error()}))
		log.Error().Err(err).Str("kind", string(cfdi.KindOf(err))).Str("estado", string(to)).
			Dur("duracion", p.now().Sub(start)).Msg("timbrado fallido")
		return pac.StampResult{}, err
	}

	p.record(ctx, doc.entry(cfdi.StateStamping, cfdi.StateStamped, JournalEntry{UUID: res.UUID, Method: string(res.Method)}))
	log.Info().Str("uuid", res.UUID).Str("metodo", string(res.Method)).Bool("recuperado", res.Recovered).
		Int("llamadas", res.Calls).Dur("duracion", p.now().Sub(start)).Msg("CFDI timbrado")
	return res, nil
}

// enterStamping registra Pending → Stamping (o StampError → Stamping en un reenvío).
// Si la bitácora no responde no se timbra: un timbre sin registro no se puede conciliar.
func (p *Pipeline) enterStamping(ctx context.Context, doc document) error {
	last, found, err := p.journal.Last(ctx, doc.Key)
	if err != nil {
		return cfdi.NewTransientError("consultar bitácora de timbrado", err)
	}
	current := last.To
	if !found {
		current = cfdi.StatePending
		if err := p.journal.Record(ctx, p.entry(doc.entry("", cfdi.StatePending, JournalEntry{}))); err != nil {
			return cfdi.NewTransientError("registrar documento", err)
		}
	}
	// Stamped/Cancel*: se reintenta igual, el PAC responde 307 y se recupera el timbre
	if !cfdi.CanTransition(current, cfdi.StateStamping) {
		return nil
	}
	if err := p.journal.Record(ctx, p.entry(doc.entry(current, cfdi.StateStamping, JournalEntry{}))); err != nil {
		return cfdi.NewTransientError("registrar inicio de timbrado", err)
	}
	return nil
}

// record escribe en la bitácora sin fallar la operación: el resultado del PAC ya existe.
// Lleva plazo propio porque el de la llamada al PAC pudo haberse agotado.
func (p *Pipeline) record(ctx context.Context, e JournalEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := p.journal.Record(ctx, p.entry(e)); err != nil {
		p.log.Error().Err(err).Str("documento", e.DocumentKey).Str("uuid", e.UUID).
			Str("estado", string(e.To)).Msg("no se pudo registrar transición")
	}
}

func (p *Pipeline) entry(e JournalEntry) JournalEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = p.now()
	}
	return e
}

func (p *Pipeline) credential(ctx context.Context, rfc string) (csd.Credential, error) {
	if p.creds == nil {
		return csd.Credential{}, cfdi.NewConfigError("no hay almacén de CSD configurado")
	}
	cred, err := p.creds.Get(ctx, rfc)
	if err != nil {
		return csd.Credential{}, err
	}
	if !cred.Certificate.ValidAt(p.now()) {
		return csd.Credential{}, cfdi.NewCertificateError(cfdi.ErrCertificateExpired, "certificado "+cred.Certificate.Number)
	}
	return cred, nil
}

// document identidad y datos de conciliación de un comprobante en la bitácora.
type document struct {
	Key         string
	EmitterRFC  string
	ReceiverRFC string
	Total       decimal.Decimal
}

func draftDocument(key string, d cfdi.InvoiceDraft) document {
	return document{
		Key:         key,
		EmitterRFC:  pkgsat.NormalizeRFC(d.Emitter.RFC),
		ReceiverRFC: pkgsat.NormalizeRFC(d.Receiver.RFC),
		Total:       d.ComputeTotals().Total,
	}
}

// journalDocument datos del documento tal como quedaron en su última transición.
func journalDocument(e JournalEntry) document {
	return document{
		Key:         e.DocumentKey,
		EmitterRFC:  e.EmitterRFC,
		ReceiverRFC: e.ReceiverRFC,
		Total:       e.Total,
	}
}

// entry completa e con la identidad del documento y la transición.
func (d document) entry(from, to cfdi.State, e JournalEntry) JournalEntry {
	e.DocumentKey = d.Key
	e.EmitterRFC = d.EmitterRFC
	e.ReceiverRFC = d.ReceiverRFC
	e.Total = d.Total
	e.From = from
	e.To = to
	return e
}

// documentKey digest de la cadena original: identifica el documento sin depender del folio.
func documentKey(c cfdi.CadenaOriginal) string {
	sum := sha256.Sum256(c.Bytes())
	return hex.EncodeToString(sum[:])
}

func errorCode(err error) string {
	if e, ok := cfdi.AsError(err); ok {
		if e.Code != "" {
			return e.Code
		}
		return string(e.Kind)
	}
	return ""
}
